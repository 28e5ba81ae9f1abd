package rpc

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Backend is the opaque adapter contract for C3: it drives whatever
// local DNSSEC signer or registry hook owns zone enrolment, without
// the controller knowing its shape (§4.3).
type Backend interface {
	ManageZone(ctx context.Context, zone string) error
	UnmanageZone(ctx context.Context, zone string) error
}

// NullBackend performs no action; useful for dry runs and tests.
type NullBackend struct{}

func (NullBackend) ManageZone(ctx context.Context, zone string) error   { return nil }
func (NullBackend) UnmanageZone(ctx context.Context, zone string) error { return nil }

// ShellBackend drives an external command-line tool (e.g.
// ods-ksmutil/ods-signer) by argv array, never by concatenated shell
// string, grounded on original_source/src/backend.py's subprocess
// invocation and the teacher's exec.CommandContext usage pattern.
type ShellBackend struct {
	// ManageArgv/UnmanageArgv are argv templates; the literal token
	// "{zone}" is substituted with the zone name in each element.
	ManageArgv   []string
	UnmanageArgv []string
	Timeout      time.Duration
}

func substituteZone(argv []string, zone string) []string {
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = strings.ReplaceAll(a, "{zone}", zone)
	}
	return out
}

func (b *ShellBackend) run(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("empty backend command")
	}
	if b.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", strings.Join(argv, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (b *ShellBackend) ManageZone(ctx context.Context, zone string) error {
	return b.run(ctx, substituteZone(b.ManageArgv, zone))
}

func (b *ShellBackend) UnmanageZone(ctx context.Context, zone string) error {
	return b.run(ctx, substituteZone(b.UnmanageArgv, zone))
}

// ClusterTransport is the contract for §4.3's cluster replication:
// a flag write is published to siblings, and siblings consume
// published messages and apply them with last-writer-wins ordering.
type ClusterTransport interface {
	Publish(ctx context.Context, msg string) error
	Subscribe(ctx context.Context) (<-chan string, error)
}

// LoopbackTransport is the default ClusterTransport: a single-node
// deployment with no siblings, publish is a no-op and subscribe
// never delivers anything.
type LoopbackTransport struct{}

func (LoopbackTransport) Publish(ctx context.Context, msg string) error { return nil }
func (LoopbackTransport) Subscribe(ctx context.Context) (<-chan string, error) {
	ch := make(chan string)
	return ch, nil
}

// ClusterMessage is the parsed wire form of a replicated flag
// mutation: "<epoch_seconds> SET|CLEAR <zone>.<flag> [value]".
type ClusterMessage struct {
	When    time.Time
	Zone    string
	Flag    FlagName
	Clear   bool
	Payload string
}

// ParseClusterMessage parses the wire format produced by
// FormatClusterMessage.
func ParseClusterMessage(line string) (ClusterMessage, error) {
	fields := strings.SplitN(strings.TrimSpace(line), " ", 4)
	if len(fields) < 3 {
		return ClusterMessage{}, fmt.Errorf("malformed cluster message %q", line)
	}
	sec, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return ClusterMessage{}, fmt.Errorf("malformed cluster message timestamp %q: %w", fields[0], err)
	}
	// Zone names contain dots, flag names do not: split at the last dot.
	dot := strings.LastIndex(fields[2], ".")
	if dot <= 0 || dot == len(fields[2])-1 {
		return ClusterMessage{}, fmt.Errorf("malformed cluster message target %q", fields[2])
	}
	msg := ClusterMessage{
		When: time.Unix(sec, 0),
		Zone: fields[2][:dot],
		Flag: FlagName(fields[2][dot+1:]),
	}
	switch fields[1] {
	case "SET":
		msg.Clear = false
	case "CLEAR":
		msg.Clear = true
	default:
		return ClusterMessage{}, fmt.Errorf("malformed cluster message verb %q", fields[1])
	}
	if len(fields) == 4 {
		msg.Payload = fields[3]
	}
	return msg, nil
}

// FormatClusterMessage renders the wire format for Publish.
func FormatClusterMessage(when time.Time, zone string, flag FlagName, value any) string {
	switch v := value.(type) {
	case bool:
		if !v {
			return fmt.Sprintf("%d CLEAR %s.%s", when.Unix(), zone, flag)
		}
		return fmt.Sprintf("%d SET %s.%s", when.Unix(), zone, flag)
	default:
		return fmt.Sprintf("%d SET %s.%s %v", when.Unix(), zone, flag, v)
	}
}

// ClusterConsumer applies remote flag mutations to a local FlagStore
// with last-writer-wins semantics: a message older than the local
// flag file's mtime is dropped, per §4.3.
type ClusterConsumer struct {
	Store     FlagStore
	Transport ClusterTransport
}

// Run drains the transport until ctx is cancelled, applying each
// message it decodes.
func (c *ClusterConsumer) Run(ctx context.Context) error {
	ch, err := c.Transport.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("cluster subscribe: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-ch:
			if !ok {
				return nil
			}
			c.apply(line)
		}
	}
}

func (c *ClusterConsumer) apply(line string) {
	msg, err := ParseClusterMessage(line)
	if err != nil {
		log.Printf("ClusterConsumer: dropping message: %v", err)
		return
	}

	local := c.Store.Mtime(msg.Zone, msg.Flag)
	if !local.IsZero() && !msg.When.After(local) {
		// Local write is newer than or concurrent with the remote one:
		// last-writer-wins means the remote message loses.
		return
	}

	var value any
	if msg.Clear {
		value = false
	} else if msg.Payload != "" {
		value = msg.Payload
	} else {
		value = true
	}
	if err := c.Store.Set(msg.Zone, msg.Flag, value); err != nil {
		log.Printf("ClusterConsumer: applying %s.%s failed: %v", msg.Zone, msg.Flag, err)
	}
}
