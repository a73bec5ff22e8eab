package route

import (
	"net/url"
	"sync"
)

// Context is the per-request view handed to handlers alongside the
// request. Query and captures are computed on first access and cached.
type Context struct {
	pattern *Pattern
	rawURL  string

	queryOnce sync.Once
	query     url.Values

	matchOnce sync.Once
	match     Match
	matched   bool
}

// NewContext builds a context for rawURL. pattern may be nil, in which
// case Params and Wildcards are empty.
func NewContext(rawURL string, pattern *Pattern) *Context {
	return &Context{rawURL: rawURL, pattern: pattern}
}

// URL returns the request URL the context was built for.
func (c *Context) URL() string { return c.rawURL }

// Query returns the parsed search parameters. Malformed pairs are skipped.
func (c *Context) Query() url.Values {
	c.queryOnce.Do(func() {
		c.query = url.Values{}
		u, err := url.Parse(c.rawURL)
		if err != nil {
			return
		}
		c.query, _ = url.ParseQuery(u.RawQuery)
	})
	return c.query
}

// Params returns the named captures of the route pattern. The pattern is
// matched against the escaped path, so captures keep their percent
// encoding ("a%2Fb" stays one segment).
func (c *Context) Params() map[string]string {
	c.resolveMatch()
	return c.match.Params
}

// Param returns one named capture.
func (c *Context) Param(name string) string {
	return c.Params()[name]
}

// Wildcards returns the unnamed captures in pattern order.
func (c *Context) Wildcards() []string {
	c.resolveMatch()
	return c.match.Wildcards
}

// Matched reports whether the request path matched the route pattern.
func (c *Context) Matched() bool {
	c.resolveMatch()
	return c.matched
}

func (c *Context) resolveMatch() {
	c.matchOnce.Do(func() {
		c.match = Match{Params: map[string]string{}}
		if c.pattern == nil {
			return
		}
		u, err := url.Parse(c.rawURL)
		if err != nil {
			return
		}
		if m, ok := c.pattern.Match(u.EscapedPath()); ok {
			c.match, c.matched = m, true
		}
	})
}
