// Package ftp implements the FTP side of a file retriever: a single-session
// client that logs in, switches to binary mode, changes into the file's
// directory, asks for its size, negotiates a data connection and streams
// the file.
//
// # Basic Usage
//
//	client, err := ftp.Dial(ctx, "ftp.example.com", "21")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Quit()
//
//	if err := client.Login("anonymous", ""); err != nil {
//	    log.Fatal(err)
//	}
//
//	u, _ := fetch.Parse("ftp://ftp.example.com/pub/file.tgz")
//	u.LocalName = "file.tgz"
//	if err := client.Get(ctx, u, w); err != nil {
//	    log.Fatal(err)
//	}
//
// An empty password makes the client announce itself as login@hostname,
// the usual anonymous FTP convention.
//
// # Data Connections
//
// EPSV is tried first. When the server refuses it, or its reply cannot be
// parsed, or the announced port cannot be reached, the client falls back to
// EPRT and listens for the server on the control connection's local
// address. WithActiveMode skips EPSV entirely.
//
// Neither the active-mode accept nor the transfer itself has a timeout
// unless WithDataTimeout is given; a stalled server otherwise blocks until
// the context passed to the blocking call is cancelled.
//
// # Replies
//
// Every reply is classified by the first digit of its code into a
// ReplyKind. Codes outside 100..553 and lines too short to hold a code are
// reported as *ReplyError. A reply of the wrong kind for the command that
// was sent is reported as *ProtocolError carrying the full reply text.
//
// # Dispatcher Integration
//
// NewEngine returns a fetch.Engine so the client can be registered with a
// fetch.Dispatcher for the ftp scheme.
package ftp
