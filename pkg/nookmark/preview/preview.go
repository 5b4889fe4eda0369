// Package preview fetches a page and pulls out what a bookmark form needs:
// the title, a description and a favicon.
package preview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"
)

const (
	maxBody        = 1 << 20
	maxTitle       = 500
	maxDescription = 2000
	userAgent      = "Mozilla/5.0 (compatible; nookmark/1.0)"
	maxRedirects   = 5
)

var (
	// ErrUnsupportedURL is returned for anything but absolute http(s) URLs
	ErrUnsupportedURL = errors.New("url must be an absolute http or https URL")
	// ErrBlockedAddress is returned when a host resolves to a loopback,
	// private, link-local or otherwise non-public address
	ErrBlockedAddress = errors.New("address is not publicly routable")
)

// sharedAddressSpace is the carrier-grade NAT range (RFC 6598)
var sharedAddressSpace = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

// Metadata describes a fetched page
type Metadata struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Favicon     string `json:"favicon,omitempty"`
}

// Fetcher retrieves page metadata over HTTP
type Fetcher struct {
	client  *http.Client
	timeout time.Duration
}

// NewFetcher creates a Fetcher. A nil client uses NewClient, which only
// connects to public addresses.
func NewFetcher(client *http.Client, timeout time.Duration) *Fetcher {
	if client == nil {
		client = NewClient()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Fetcher{client: client, timeout: timeout}
}

// NewClient returns an HTTP client that refuses to connect to non-public
// addresses. The check runs on the resolved address of every connection,
// so redirects and DNS names pointing inside the network are covered.
func NewClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: 5 * time.Second,
		Control: publicOnly,
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// A proxy would make the dialed address the proxy's
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
}

func publicOnly(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil || !isPublic(ip) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	return nil
}

func isPublic(ip net.IP) bool {
	switch {
	case ip.IsLoopback(), ip.IsPrivate(), ip.IsUnspecified(),
		ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast(),
		ip.IsInterfaceLocalMulticast(), ip.IsMulticast():
		return false
	case sharedAddressSpace.Contains(ip):
		return false
	}
	return true
}

// Fetch downloads rawURL and extracts its metadata. Non-HTML responses
// yield metadata with only the URL and default favicon set.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Metadata, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, ErrUnsupportedURL
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetching page: HTTP %d", resp.StatusCode)
	}

	// Redirects change the base for relative links
	base := resp.Request.URL
	meta := &Metadata{URL: base.String()}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "text/html" || mediaType == "application/xhtml+xml" {
		doc, err := html.Parse(io.LimitReader(resp.Body, maxBody))
		if err != nil {
			return nil, fmt.Errorf("parsing page: %w", err)
		}
		extract(doc, base, meta)
	}

	if meta.Favicon == "" {
		meta.Favicon = base.Scheme + "://" + base.Host + "/favicon.ico"
	}
	meta.Title = truncate(meta.Title, maxTitle)
	meta.Description = truncate(meta.Description, maxDescription)
	return meta, nil
}

func extract(doc *html.Node, base *url.URL, meta *Metadata) {
	var title, ogTitle, description, ogDescription, icon string

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if title == "" {
					title = collapse(textOf(n))
				}
			case "meta":
				content := collapse(attr(n, "content"))
				switch {
				case strings.EqualFold(attr(n, "name"), "description"):
					description = content
				case attr(n, "property") == "og:title":
					ogTitle = content
				case attr(n, "property") == "og:description":
					ogDescription = content
				}
			case "link":
				if icon == "" && isIconRel(attr(n, "rel")) {
					icon = attr(n, "href")
				}
			case "body":
				// Everything we want lives in <head>
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	meta.Title = firstNonEmpty(title, ogTitle)
	meta.Description = firstNonEmpty(description, ogDescription)
	if icon != "" {
		if ref, err := url.Parse(strings.TrimSpace(icon)); err == nil {
			meta.Favicon = base.ResolveReference(ref).String()
		}
	}
}

func isIconRel(rel string) bool {
	for _, r := range strings.Fields(strings.ToLower(rel)) {
		if r == "icon" {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
