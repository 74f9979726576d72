/*
Package templating loads the wiki's html/template set and provides the
template function library used by wiki pages.

Templates are looked up by their slash-separated path, for example
"wiki/article.html". The built-in templates embedded in this package are
parsed first, then the templates shipped by plugins, then the optional
template directory on disk, so a site can override any template by placing a
file with the same path in its template directory. Refresh reparses all of
them without a restart.

Helpers that need request state take the page Context as their first
argument:

	{{wikiRender . .article}}
	{{wikiForm . .form}}
	{{wikiMessages .}}
	{{with articleForObject . .object}}...{{end}}
	<a href="{{loginURL .}}">Log in</a>

The others are plain functions: contentSnippet, canRead, canWrite, canDelete,
canModerate, isLocked, pluginEnabled, wikiSettings and startsWith. Plugins may
contribute further functions through the registry.
*/
package templating
