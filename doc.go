// Package fetch retrieves resources named by http, https, ftp and file
// URLs.
//
// A URL is parsed with Parse and handed to a Dispatcher, which picks the
// Engine registered for its scheme. The engine's Session connects,
// negotiates the transfer, streams the bytes to a Destination and finishes
// the exchange:
//
//	d, err := fetch.NewDispatcher(map[fetch.Scheme]fetch.Engine{
//	    fetch.SchemeFTP: ftp.NewEngine(),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	u, err := fetch.Parse("ftp://ftp.example.com/pub/file.txt")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	u.LocalName = "file.txt"
//	err = d.Fetch(ctx, u, &localfile.Destination{FS: localfile.OS{}})
//
// Transfers resume from URL.Offset when it is nonzero. When the dispatcher
// has a proxy, ftp and file URLs are fetched through it by the HTTP engine.
package fetch
