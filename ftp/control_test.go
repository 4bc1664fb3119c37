package ftp

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		code    int
		want    ReplyKind
		wantErr bool
	}{
		{code: 150, want: Preliminary},
		{code: 226, want: Complete},
		{code: 331, want: Intermediate},
		{code: 425, want: TransientNegative},
		{code: 550, want: PermanentNegative},
		{code: 100, want: Preliminary},
		{code: 553, want: PermanentNegative},
		{code: 99, wantErr: true},
		{code: 554, wantErr: true},
		{code: 599, wantErr: true},
		{code: 600, wantErr: true},
	}

	for _, tt := range tests {
		got, err := Classify(tt.code)
		if tt.wantErr {
			assert.Error(t, err, "code %d", tt.code)
			continue
		}
		require.NoError(t, err, "code %d", tt.code)
		assert.Equal(t, tt.want, got, "code %d", tt.code)
	}
}

func TestClassifyRejectsEverythingAbove553(t *testing.T) {
	t.Parallel()
	for code := 554; code <= 599; code++ {
		_, err := Classify(code)
		assert.Error(t, err, "code %d", code)
	}
}

func TestReadReply_SingleLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		input    string
		wantCode int
		wantKind ReplyKind
		wantMsg  string
	}{
		{
			name:     "simple success",
			input:    "220 Welcome\r\n",
			wantCode: 220,
			wantKind: Complete,
			wantMsg:  "Welcome",
		},
		{
			name:     "file not found",
			input:    "550 file not found\r\n",
			wantCode: 550,
			wantKind: PermanentNegative,
			wantMsg:  "file not found",
		},
		{
			name:     "code with no message",
			input:    "200 \r\n",
			wantCode: 200,
			wantKind: Complete,
			wantMsg:  "",
		},
		{
			name:     "bare LF",
			input:    "350 Restarting\n",
			wantCode: 350,
			wantKind: Intermediate,
			wantMsg:  "Restarting",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := readReply(bufio.NewReader(strings.NewReader(tt.input)), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.Equal(t, tt.wantKind, resp.Kind)
			assert.Equal(t, tt.wantMsg, resp.Message)
			assert.Len(t, resp.Lines, 1)
		})
	}
}

func TestReadReply_MultiLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		input     string
		wantCode  int
		wantKind  ReplyKind
		wantLines []string
	}{
		{
			name:      "two lines",
			input:     "150-a\r\n150 b\r\n",
			wantCode:  150,
			wantKind:  Preliminary,
			wantLines: []string{"150-a", "150 b"},
		},
		{
			name: "free text and short lines in between",
			input: "220-Welcome to FTP\r\n" +
				"be nice\r\n" +
				"x\r\n" +
				"\r\n" +
				"220-still going\r\n" +
				"220 Ready\r\n",
			wantCode:  220,
			wantKind:  Complete,
			wantLines: []string{"220-Welcome to FTP", "be nice", "x", "", "220-still going", "220 Ready"},
		},
		{
			name:      "other code does not terminate",
			input:     "211-Status\r\n200 not the end\r\n211 End\r\n",
			wantCode:  211,
			wantKind:  Complete,
			wantLines: []string{"211-Status", "200 not the end", "211 End"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := readReply(bufio.NewReader(strings.NewReader(tt.input)), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.Equal(t, tt.wantKind, resp.Kind)
			assert.Equal(t, tt.wantLines, resp.Lines)
			assert.Equal(t, strings.Join(tt.wantLines, "\n"), resp.String())
		})
	}
}

func TestReadReply_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		input     string
		wantReply bool
	}{
		{name: "short first line", input: "22\r\n", wantReply: true},
		{name: "non numeric code", input: "2x0 hello\r\n", wantReply: true},
		{name: "code out of range", input: "600 hello\r\n", wantReply: true},
		{name: "code above 553", input: "554 hello\r\n", wantReply: true},
		{name: "code below 100", input: "099 hello\r\n", wantReply: true},
		{name: "empty input", input: ""},
		{name: "unterminated multi-line", input: "220-hello\r\n220-more\r\n"},
		{name: "missing newline", input: "220 hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readReply(bufio.NewReader(strings.NewReader(tt.input)), nil)
			require.Error(t, err)
			var rerr *ReplyError
			assert.Equal(t, tt.wantReply, errors.As(err, &rerr), "error %v", err)
			if !tt.wantReply {
				assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
			}
		})
	}
}

func TestReadReply_Echo(t *testing.T) {
	t.Parallel()
	input := "230-Hello\r\nfree text\r\n230 Done\r\n"

	var echo bytes.Buffer
	_, err := readReply(bufio.NewReader(strings.NewReader(input)), &echo)
	require.NoError(t, err)
	assert.Equal(t, input, echo.String())
}

func TestReadReply_Sequential(t *testing.T) {
	t.Parallel()
	r := bufio.NewReader(strings.NewReader("150 Opening\r\n226-Transfer\r\n226 complete\r\n"))

	first, err := readReply(r, nil)
	require.NoError(t, err)
	assert.Equal(t, Preliminary, first.Kind)

	second, err := readReply(r, nil)
	require.NoError(t, err)
	assert.Equal(t, Complete, second.Kind)
	assert.Equal(t, "Transfer\ncomplete", second.Message)
}

func TestReplyKindString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "preliminary", Preliminary.String())
	assert.Equal(t, "permanent-negative", PermanentNegative.String())
	assert.Equal(t, "invalid", ReplyKind(0).String())
}
