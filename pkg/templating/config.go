package templating

// TemplateConfig holds all configuration options for the templating engine.
type TemplateConfig struct {
	// SnippetMaxLetters is the window size used by contentSnippet when the
	// template does not pass one.
	SnippetMaxLetters int `json:"snippet_max_letters" env:"SNIPPET_MAX_LETTERS"`

	// ObjectCacheSize caps the number of entries kept by articleForObject.
	// When the cap is reached the cache is emptied and starts over.
	ObjectCacheSize int `json:"object_cache_size" env:"OBJECT_CACHE_SIZE"`

	// RenderTemplate is the include rendered by wikiRender.
	RenderTemplate string `json:"render_template" env:"RENDER_TEMPLATE"`

	// FormTemplate is the include rendered by wikiForm.
	FormTemplate string `json:"form_template" env:"FORM_TEMPLATE"`

	// MessagesTemplate is the include rendered by wikiMessages.
	MessagesTemplate string `json:"messages_template" env:"MESSAGES_TEMPLATE"`
}

// DefaultConfig returns a TemplateConfig with the stock include templates.
func DefaultConfig() TemplateConfig {
	return TemplateConfig{
		SnippetMaxLetters: 300,
		ObjectCacheSize:   1024,
		RenderTemplate:    "wiki/includes/render.html",
		FormTemplate:      "wiki/includes/form.html",
		MessagesTemplate:  "wiki/includes/messages.html",
	}
}
