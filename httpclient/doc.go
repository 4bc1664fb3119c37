// Package httpclient retrieves http and https URLs for a fetch.Dispatcher.
//
// It speaks just enough HTTP/1.1 to download one resource per connection:
// a GET request, an optional Range header to resume, and the response body
// streamed to the destination. When the dispatcher is configured with a
// proxy, requests go to the proxy in absolute form; this is also how ftp
// and file URLs are fetched through a proxy. https through a proxy uses a
// CONNECT tunnel.
package httpclient
