package ftp

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ReplyKind is the class of an FTP reply, selected by the first digit of its
// status code.
type ReplyKind int

const (
	// Preliminary replies (1xx) announce that an action has started.
	Preliminary ReplyKind = iota + 1
	// Complete replies (2xx) report success.
	Complete
	// Intermediate replies (3xx) ask for more information.
	Intermediate
	// TransientNegative replies (4xx) report a failure worth retrying.
	TransientNegative
	// PermanentNegative replies (5xx) report a failure.
	PermanentNegative
)

func (k ReplyKind) String() string {
	switch k {
	case Preliminary:
		return "preliminary"
	case Complete:
		return "complete"
	case Intermediate:
		return "intermediate"
	case TransientNegative:
		return "transient-negative"
	case PermanentNegative:
		return "permanent-negative"
	}
	return "invalid"
}

const (
	minReplyCode = 100
	maxReplyCode = 553
)

// Classify maps a status code to its reply kind. Codes outside 100..553 are
// rejected.
func Classify(code int) (ReplyKind, error) {
	if code < minReplyCode || code > maxReplyCode {
		return 0, fmt.Errorf("reply code %d out of range", code)
	}
	return ReplyKind(code / 100), nil
}

// Response represents an FTP server reply.
type Response struct {
	// Code is the three-digit reply code (e.g., 220, 550)
	Code int

	// Kind is the class selected by the first digit of Code
	Kind ReplyKind

	// Message is the human-readable text of the reply
	Message string

	// Lines contains every line of the reply, including the last
	Lines []string
}

// String returns the full reply text.
func (r *Response) String() string {
	return strings.Join(r.Lines, "\n")
}

// last returns the line that terminated the reply.
func (r *Response) last() string {
	if len(r.Lines) == 0 {
		return ""
	}
	return r.Lines[len(r.Lines)-1]
}

// readReply reads one complete reply from r. When echo is non-nil every
// line received is copied to it verbatim.
//
// Single-line format: "220 Welcome\r\n"
// Multi-line format:
//
//	"220-Welcome to FTP\r\n"
//	"some free text\r\n"
//	"220 Ready\r\n"
//
// A multi-line reply ends at the first line that starts with the same code
// followed by a space. Lines in between are kept whatever their shape.
func readReply(r *bufio.Reader, echo io.Writer) (*Response, error) {
	line, err := readLine(r, echo)
	if err != nil {
		return nil, err
	}
	if len(line) < 4 {
		return nil, &ReplyError{Line: line, Reason: "line too short"}
	}

	codeStr := line[:3]
	lines := []string{line}

	if line[3] != ' ' {
		for {
			line, err = readLine(r, echo)
			if err != nil {
				return nil, err
			}
			lines = append(lines, line)
			if len(line) >= 4 && line[:3] == codeStr && line[3] == ' ' {
				break
			}
		}
	}

	code, err := strconv.Atoi(codeStr)
	if err != nil {
		return nil, &ReplyError{Line: lines[0], Reason: "invalid reply code"}
	}
	kind, err := Classify(code)
	if err != nil {
		return nil, &ReplyError{Line: lines[0], Reason: err.Error()}
	}

	return &Response{
		Code:    code,
		Kind:    kind,
		Message: replyMessage(lines),
		Lines:   lines,
	}, nil
}

func readLine(r *bufio.Reader, echo io.Writer) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if err == io.EOF {
			if line == "" {
				return "", io.ErrUnexpectedEOF
			}
			return "", fmt.Errorf("unterminated reply line %q: %w", line, io.ErrUnexpectedEOF)
		}
		return "", err
	}
	if echo != nil {
		_, _ = io.WriteString(echo, line)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func replyMessage(lines []string) string {
	if len(lines) == 1 {
		return lines[0][4:]
	}
	var msg []string
	for _, l := range lines {
		if len(l) > 4 && (l[3] == '-' || l[3] == ' ') {
			msg = append(msg, l[4:])
		} else {
			msg = append(msg, l)
		}
	}
	return strings.Join(msg, "\n")
}

// sendCommand sends an FTP command and returns the reply. The reply is
// echoed to the info writer unless quiet is set.
func (c *Client) sendCommand(quiet bool, command string, args ...string) (*Response, error) {
	cmd := command
	if len(args) > 0 {
		cmd = command + " " + strings.Join(args, " ")
	}

	logged := cmd
	if command == "PASS" {
		logged = "PASS ****"
	}
	c.logger.Debug("ftp command", "cmd", logged)
	if c.debug != nil {
		fmt.Fprintf(c.debug, ">>> %s\n", logged)
	}

	start := time.Now()

	if c.timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return nil, fmt.Errorf("failed to set write deadline: %w", err)
		}
	}
	if _, err := fmt.Fprintf(c.conn, "%s\r\n", cmd); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	resp, err := c.readReply(quiet)
	if err != nil {
		c.recordCommand(command, false, start)
		return nil, fmt.Errorf("failed to read response to %s: %w", command, err)
	}
	return resp, nil
}

// readReply reads the next reply from the control connection.
func (c *Client) readReply(quiet bool) (*Response, error) {
	if c.timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return nil, fmt.Errorf("failed to set read deadline: %w", err)
		}
	}

	var echo io.Writer
	if !quiet {
		echo = c.info
	}
	resp, err := readReply(c.reader, echo)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("ftp response", "code", resp.Code, "kind", resp.Kind, "message", resp.Message)
	return resp, nil
}

// expect sends a command and checks that the reply is one of the wanted
// kinds.
func (c *Client) expect(quiet bool, want []ReplyKind, command string, args ...string) (*Response, error) {
	start := time.Now()
	resp, err := c.sendCommand(quiet, command, args...)
	if err != nil {
		return nil, err
	}

	for _, k := range want {
		if resp.Kind == k {
			c.recordCommand(command, true, start)
			return resp, nil
		}
	}
	c.recordCommand(command, false, start)
	return resp, &ProtocolError{
		Command:  command,
		Response: resp.String(),
		Code:     resp.Code,
		Kind:     resp.Kind,
	}
}

// expectComplete sends a command that must be answered with a 2xx reply.
func (c *Client) expectComplete(command string, args ...string) (*Response, error) {
	return c.expect(false, []ReplyKind{Complete}, command, args...)
}

func (c *Client) recordCommand(command string, ok bool, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordCommand(command, ok, time.Since(start))
	}
}
