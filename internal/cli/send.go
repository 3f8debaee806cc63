package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/roach88/elara/internal/track"
	"github.com/roach88/elara/internal/transport"
	"github.com/roach88/elara/internal/transport/redis"
)

// SendOptions holds flags for the send command.
type SendOptions struct {
	*RootOptions
	Addr    string
	Key     string
	Count   int
	Rate    float64
	Payload string
	Framed  bool
	Source  int32
	Type    int32
}

// SendResult counts send outcomes by result name.
type SendResult struct {
	Key     string         `json:"key"`
	Sent    int            `json:"sent"`
	Results map[string]int `json:"results"`
}

// NewSendCommand creates the send command.
func NewSendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Push messages onto a Redis input",
		Long: `Push messages onto the Redis list of a redis input, paced to a rate.

"{n}" in the payload is replaced by the message number, starting at 1.
Without --framed the payload is pushed as is, for inputs with raw: true.
With --framed each message is an encoded command frame of --type for
--source.

Examples:
  elara send --addr localhost:6379 --key orders --count 1000 --rate 200 --payload 'order-{n}'
  elara send --addr localhost:6379 --key orders --framed --source 7 --type 3`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "localhost:6379", "Redis address")
	cmd.Flags().StringVar(&opts.Key, "key", "", "Redis list key (required)")
	_ = cmd.MarkFlagRequired("key")
	cmd.Flags().IntVar(&opts.Count, "count", 1, "number of messages")
	cmd.Flags().Float64Var(&opts.Rate, "rate", 0, "messages per second (0 for no limit)")
	cmd.Flags().StringVar(&opts.Payload, "payload", "{n}", "message payload")
	cmd.Flags().BoolVar(&opts.Framed, "framed", false, "send encoded command frames")
	cmd.Flags().Int32Var(&opts.Source, "source", 1, "source id of framed commands")
	cmd.Flags().Int32Var(&opts.Type, "type", 0, "type of framed commands")

	return cmd
}

func runSend(opts *SendOptions, cmd *cobra.Command) error {
	if opts.Count < 1 {
		return NewExitError(ExitCommandError, "count must be at least 1")
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	queue := redis.New(opts.Addr, opts.Key, redis.WithLogger(logger))
	defer queue.Close()

	result, err := sendMessages(ctx, opts, queue)
	if err != nil {
		return WrapExitError(ExitFailure, "send interrupted", err)
	}
	logger.Debug("send finished", "key", opts.Key, "sent", result.Sent)

	if err := formatter.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "Sent %d/%d messages to %s\n", result.Sent, opts.Count, opts.Key)
		names := make([]string, 0, len(result.Results))
		for name := range result.Results {
			if name != transport.Sent.String() {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "  %s: %d\n", name, result.Results[name])
		}
	}); err != nil {
		return err
	}
	if result.Sent < opts.Count {
		return NewExitError(ExitFailure, fmt.Sprintf("%d message(s) not sent", opts.Count-result.Sent))
	}
	return nil
}

// sendMessages sends opts.Count messages through sender, waiting on a rate
// limiter between them.
func sendMessages(ctx context.Context, opts *SendOptions, sender transport.Sender) (SendResult, error) {
	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	limiter := rate.NewLimiter(limit, 1)

	send := func(payload []byte) transport.SendResult { return sender.SendMessage(payload) }
	if opts.Framed {
		cs := track.NewCommandSender(opts.Source, sender, track.NewCommandTracker())
		send = func(payload []byte) transport.SendResult { return cs.SendCommand(opts.Type, payload) }
	}

	result := SendResult{Key: opts.Key, Results: make(map[string]int)}
	for i := 1; i <= opts.Count; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return result, err
		}
		payload := strings.ReplaceAll(opts.Payload, "{n}", strconv.Itoa(i))
		res := send([]byte(payload))
		result.Results[res.String()]++
		if res == transport.Sent {
			result.Sent++
		}
	}
	return result, nil
}
