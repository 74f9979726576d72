package attachments

import (
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
)

var (
	// ErrIllegalExtension is returned for uploads whose extension is not allowed.
	ErrIllegalExtension = errors.New("file extension not allowed")
	// ErrFileTooLarge is returned for uploads over Config.MaxFileSize.
	ErrFileTooLarge = errors.New("file too large")
	// ErrInvalidFilename is returned when no usable file name was given.
	ErrInvalidFilename = errors.New("invalid file name")
)

// Config holds the attachment plugin's settings.
type Config struct {
	// MediaRoot is the directory uploads are stored under.
	MediaRoot string `json:"media_root" env:"MEDIA_ROOT"`
	// UploadPath is the directory below MediaRoot for an article's files.
	// "%aid" is replaced by the article id.
	UploadPath string `json:"upload_path" env:"UPLOAD_PATH"`
	// Obscurify adds a random directory to the upload path, so file URLs
	// can't be guessed.
	Obscurify bool `json:"obscurify" env:"OBSCURIFY"`
	// AppendExtension is appended to stored file names, so uploaded files are
	// never served or executed by their own extension. Empty disables it.
	AppendExtension string `json:"append_extension" env:"APPEND_EXTENSION"`
	// FileExtensions lists the allowed, lower-case extensions without the dot.
	// An empty list allows every extension.
	FileExtensions []string `json:"file_extensions" env:"FILE_EXTENSIONS" envSeparator:","`
	// MaxFileSize is the largest accepted upload, in bytes.
	MaxFileSize int64 `json:"max_file_size" env:"MAX_FILE_SIZE"`
	// Anonymous allows unauthenticated users to upload when they can write
	// to the article.
	Anonymous bool `json:"anonymous" env:"ANONYMOUS"`
}

func DefaultConfig() *Config {
	return &Config{
		MediaRoot:       "media",
		UploadPath:      "wiki/attachments/%aid/",
		Obscurify:       true,
		AppendExtension: "upload",
		FileExtensions:  []string{"pdf", "doc", "odt", "docx", "txt"},
		MaxFileSize:     10 << 20,
		Anonymous:       false,
	}
}

// CleanFilename reduces a client supplied file name to its last path element.
func CleanFilename(name string) (string, error) {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	if name == "" || name == "." || name == ".." || name == "/" {
		return "", ErrInvalidFilename
	}
	return name, nil
}

// CheckExtension reports whether filename may be uploaded.
func (c *Config) CheckExtension(filename string) error {
	if len(c.FileExtensions) == 0 {
		return nil
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
	if ext == "" || !slices.Contains(c.FileExtensions, ext) {
		return fmt.Errorf("%w: %q (allowed: %s)", ErrIllegalExtension, filename, strings.Join(c.FileExtensions, ", "))
	}
	return nil
}
