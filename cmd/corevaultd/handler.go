package main

import (
	"fmt"
	"io"
	"time"

	"github.com/meganz/corevault/agentipc"
	"github.com/meganz/corevault/dispatch"
	"github.com/meganz/corevault/engine"
	"github.com/meganz/corevault/internal/jsonscan"
)

// commandTimeout bounds how long one IPC-originated command waits for
// the engine to complete it before the shell client gets EUnexpected
// back; spec.md doesn't fix a value for this local round trip.
const commandTimeout = 30 * time.Second

// methodTag pulls the "a" field out of a single API-call object, purely
// for logging; a missing or malformed tag doesn't block dispatch.
func methodTag(raw []byte) string {
	sc := jsonscan.New(raw)
	if !sc.EnterObject() {
		return ""
	}
	for sc.Len() > 0 {
		if b := sc.Bytes(); sc.Pos() < len(b) && b[sc.Pos()] == '}' {
			break
		}
		name := sc.GetName()
		if name == "" {
			break
		}
		if name == "a" {
			v, _ := sc.GetString()
			return v
		}
		sc.StoreObject()
	}
	return ""
}

// newCommandHandler adapts corevaultd's one IPC command shape — the
// command text is a single raw API-call object — onto the engine's
// command path. This is the shell-local analogue of the original
// megacmd server turning a parsed shell command into MegaClient calls;
// corevaultd exposes the engine's request/response layer directly
// rather than re-implementing a shell grammar.
func newCommandHandler(eng *engine.Engine) agentipc.Handler {
	return func(cmd agentipc.Command, confirm func(string) (bool, error), out io.Writer) (agentipc.OutCode, error) {
		if cmd.Text == "" {
			return agentipc.EArgs, nil
		}

		var response []byte
		done := make(chan error, 1)
		dc := &dispatch.Command{
			Method:    methodTag([]byte(cmd.Text)),
			Serialize: func() ([]byte, error) { return []byte(cmd.Text), nil },
			Parse: func(sc *jsonscan.Scanner) error {
				response = []byte(sc.StoreObject())
				return nil
			},
			Complete: func(err error) { done <- err },
		}
		eng.EnqueueCommand(dc)

		select {
		case err := <-done:
			if err != nil {
				if we, ok := err.(dispatch.WireError); ok {
					fmt.Fprintf(out, "%d\n", int64(we))
					return agentipc.OK, nil
				}
				fmt.Fprintf(out, "error: %v\n", err)
				return agentipc.EUnexpected, nil
			}
			out.Write(response)
			return agentipc.OK, nil
		case <-time.After(commandTimeout):
			return agentipc.EUnexpected, nil
		}
	}
}
