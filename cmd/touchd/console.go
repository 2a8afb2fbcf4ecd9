package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"

	"bt532-go/bus"
	"bt532-go/services/touch"
)

var errNoTouchConfig = errors.New("no touch section in board config")

const requestTimeout = 30 * time.Second

type console struct {
	conn  *bus.Connection
	base  bus.Topic
	out   io.Writer
	watch *bus.Subscription
}

func newConsole(conn *bus.Connection, base bus.Topic, out io.Writer) *console {
	return &console{conn: conn, base: base, out: out}
}

// parseLine splits a command line into a verb and its request payload.
// Arguments are key=value pairs; a few verbs take a bare positional form:
//
//	fw_update force
//	set_mode 0x30
func parseLine(line string) (string, map[string]any, error) {
	words, err := shlex.Split(line)
	if err != nil {
		return "", nil, err
	}
	if len(words) == 0 {
		return "", nil, nil
	}
	verb, args := words[0], words[1:]
	var payload map[string]any
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok {
			switch verb {
			case touch.VerbFwUpdate:
				k, v = a, "true"
			case touch.VerbSetMode:
				k, v = "mode", a
			default:
				return "", nil, fmt.Errorf("%s: argument %q is not key=value", verb, a)
			}
		}
		if payload == nil {
			payload = map[string]any{}
		}
		payload[k] = argValue(v)
	}
	return verb, payload, nil
}

// argValue turns numbers (decimal or 0x hex) and booleans into JSON values.
func argValue(s string) any {
	if n, err := strconv.ParseInt(s, 0, 64); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

func (c *console) run(ctx context.Context, r io.Reader) error {
	sc := bufio.NewScanner(r)
	fmt.Fprintln(c.out, "touchd: type help for commands")
	for sc.Scan() {
		verb, payload, err := parseLine(sc.Text())
		if err != nil {
			fmt.Fprintln(c.out, "error:", err)
			continue
		}
		switch verb {
		case "":
		case "help":
			c.help()
		case "quit", "exit":
			return nil
		case "watch":
			c.toggleWatch()
		default:
			c.request(ctx, verb, payload)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return io.EOF
}

func (c *console) help() {
	fmt.Fprintln(c.out, "verbs:", strings.Join(touch.Verbs, " "))
	fmt.Fprintln(c.out, "also: watch (toggle event printing), help, quit")
	fmt.Fprintln(c.out, "args: key=value, or fw_update force, set_mode <mode>")
}

func (c *console) request(ctx context.Context, verb string, payload map[string]any) {
	var body any
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			fmt.Fprintln(c.out, "error:", err)
			return
		}
		body = b
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	reply, err := c.conn.RequestWait(ctx, c.conn.NewMessage(c.base.Append("control", verb), body, false))
	if err != nil {
		fmt.Fprintln(c.out, "error:", err)
		return
	}
	c.print(reply.Payload)
}

func (c *console) print(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(c.out, "error:", err)
		return
	}
	fmt.Fprintln(c.out, string(b))
}

func (c *console) toggleWatch() {
	if c.watch != nil {
		c.conn.Unsubscribe(c.watch)
		c.watch = nil
		fmt.Fprintln(c.out, "watch off")
		return
	}
	c.watch = c.conn.Subscribe(c.base.Append("event"))
	go func(ch <-chan *bus.Message) {
		for m := range ch {
			b, _ := json.Marshal(m.Payload)
			fmt.Fprintln(c.out, "event", string(b))
		}
	}(c.watch.Channel())
	fmt.Fprintln(c.out, "watch on")
}
