package wsclient

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"nhooyr.io/websocket"

	"github.com/unkn0wn-root/reqflow/internal/errdef"
)

const (
	DirectionSent     = "sent"
	DirectionReceived = "received"

	TypeText   = "text"
	TypeBinary = "binary"
)

const readLimit = 1 << 20

type Message struct {
	Type    string
	Content string
}

// Exchange is one connect, send, collect cycle.
type Exchange struct {
	URL      string
	Header   http.Header
	Messages []Message
	// Timeout bounds the wait for replies once every message is sent.
	Timeout time.Duration
	// HTTPClient performs the handshake. It must not set a client timeout.
	HTTPClient *http.Client
}

// Frame is one message on the wire. Binary payloads are base64 encoded.
type Frame struct {
	Direction string    `json:"direction"`
	Type      string    `json:"type"`
	Data      string    `json:"data"`
	Time      time.Time `json:"time"`
}

type Result struct {
	StatusCode  int
	Headers     http.Header
	Frames      []Frame
	CloseCode   int
	CloseReason string
	Duration    time.Duration
}

type Client struct {
	log logr.Logger
	now func() time.Time
}

func NewClient(log *logr.Logger) *Client {
	c := &Client{log: logr.Discard(), now: time.Now}
	if log != nil {
		c.log = *log
	}
	return c
}

// Run connects, sends each message in order and then collects replies until
// as many have arrived as were sent, the peer closes, or the timeout fires.
// Those three endings are not errors. A failed handshake or a cancelled ctx is.
func (c *Client) Run(ctx context.Context, ex Exchange) (*Result, error) {
	target := strings.TrimSpace(ex.URL)
	if target == "" {
		return nil, errdef.New(errdef.CodeHTTP, "websocket url not specified")
	}
	start := c.now()
	log := c.log.WithValues("url", target)

	conn, resp, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		HTTPClient: ex.HTTPClient,
		HTTPHeader: ex.Header,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, errdef.Wrap(errdef.CodeCanceled, ctx.Err(), "websocket dial cancelled")
		}
		if resp != nil {
			return nil, errdef.Wrap(errdef.CodeHTTP, err, "websocket handshake failed with status %d", resp.StatusCode)
		}
		return nil, errdef.Wrap(errdef.CodeHTTP, err, "websocket handshake")
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(readLimit)

	res := &Result{StatusCode: http.StatusSwitchingProtocols}
	if resp != nil {
		res.StatusCode = resp.StatusCode
		res.Headers = resp.Header.Clone()
	}
	log.V(1).Info("websocket connected", "messages", len(ex.Messages))

	for _, m := range ex.Messages {
		typ, data, err := encode(m)
		if err != nil {
			return nil, err
		}
		if err := conn.Write(ctx, typ, data); err != nil {
			return nil, c.ioErr(ctx, err, "websocket write")
		}
		res.Frames = append(res.Frames, Frame{Direction: DirectionSent, Type: frameType(typ), Data: m.Content, Time: c.now()})
	}

	if err := c.collect(ctx, conn, ex, res); err != nil {
		return nil, err
	}
	res.Duration = c.now().Sub(start)
	return res, nil
}

func (c *Client) collect(ctx context.Context, conn *websocket.Conn, ex Exchange, res *Result) error {
	want := len(ex.Messages)
	if want == 0 {
		return nil
	}
	readCtx := ctx
	if ex.Timeout > 0 {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(ctx, ex.Timeout)
		defer cancel()
	}
	for got := 0; got < want; got++ {
		typ, data, err := conn.Read(readCtx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				res.CloseCode = int(status)
				var ce websocket.CloseError
				if errors.As(err, &ce) {
					res.CloseReason = ce.Reason
				}
				return nil
			}
			if ctx.Err() != nil {
				return errdef.Wrap(errdef.CodeCanceled, ctx.Err(), "websocket read cancelled")
			}
			if readCtx.Err() != nil {
				c.log.V(1).Info("websocket reply window elapsed", "received", got, "expected", want)
				return nil
			}
			return errdef.Wrap(errdef.CodeHTTP, err, "websocket read")
		}
		res.Frames = append(res.Frames, Frame{Direction: DirectionReceived, Type: frameType(typ), Data: decode(typ, data), Time: c.now()})
	}
	return nil
}

func (c *Client) ioErr(ctx context.Context, err error, msg string) error {
	if ctx.Err() != nil {
		return errdef.Wrap(errdef.CodeCanceled, ctx.Err(), "%s cancelled", msg)
	}
	return errdef.Wrap(errdef.CodeHTTP, err, "%s", msg)
}

// encode maps a stored message onto a frame. Binary content is base64.
func encode(m Message) (websocket.MessageType, []byte, error) {
	switch strings.ToLower(strings.TrimSpace(m.Type)) {
	case "", TypeText, "json", "xml":
		return websocket.MessageText, []byte(m.Content), nil
	case TypeBinary:
		data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(m.Content))
		if err != nil {
			return 0, nil, errdef.Wrap(errdef.CodeParse, err, "decode binary websocket message")
		}
		return websocket.MessageBinary, data, nil
	default:
		return 0, nil, errdef.New(errdef.CodeParse, "unknown websocket message type %q", m.Type)
	}
}

func decode(typ websocket.MessageType, data []byte) string {
	if typ == websocket.MessageBinary {
		return base64.StdEncoding.EncodeToString(data)
	}
	return string(data)
}

func frameType(typ websocket.MessageType) string {
	if typ == websocket.MessageBinary {
		return TypeBinary
	}
	return TypeText
}
