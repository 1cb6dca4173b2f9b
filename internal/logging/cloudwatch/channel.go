package cloudwatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"

	"github.com/Chichichkin/CWLoggingAgent/internal/logging"
)

// Channel owns the CloudWatch Logs side: the lazily built client, the
// active stream and its upload sequence token. Everything past construction
// is touched by the shipper goroutine only, so there is no locking here.
type Channel struct {
	cfg     logging.Config
	render  logging.RenderFunc
	sink    logging.ErrorSink
	factory ClientFactory

	api    LogsAPI
	stream string
	token  *string
}

func NewChannel(cfg logging.Config, render logging.RenderFunc, sink logging.ErrorSink, factory ClientFactory) *Channel {
	if render == nil {
		render = logging.RenderText
	}
	return &Channel{
		cfg:     cfg,
		render:  render,
		sink:    sink,
		factory: factory,
	}
}

func (c *Channel) Ready() bool {
	return c.api != nil
}

// Open makes streamName the active stream: client on first call, log group
// when auto-creation is on, then find-or-create the stream and adopt its
// sequence token.
func (c *Channel) Open(ctx context.Context, streamName string) error {
	if c.api == nil {
		api, err := c.factory(ctx)
		if err != nil {
			return fmt.Errorf("building CloudWatch Logs client: %w", err)
		}
		c.api = api
	}
	if c.cfg.CreateLogGroup {
		if err := c.ensureLogGroup(ctx); err != nil {
			return err
		}
	}
	if err := c.openLogStream(ctx, streamName); err != nil {
		return err
	}
	c.stream = streamName
	return nil
}

// Append renders the batch into wire events and ships it to the active
// stream, filtering out events without an origin.
func (c *Channel) Append(ctx context.Context, events []logging.Event) error {
	if c.api == nil || c.stream == "" {
		return errors.New("no open log stream")
	}
	wire := make([]types.InputLogEvent, 0, len(events))
	for _, e := range events {
		if e.Origin == "" {
			continue
		}
		wire = append(wire, types.InputLogEvent{
			Timestamp: aws.Int64(e.Timestamp.UnixMilli()),
			Message:   aws.String(c.render(e)),
		})
	}
	if len(wire) == 0 {
		return nil
	}
	in := &cloudwatchlogs.PutLogEventsInput{
		LogGroupName:  aws.String(c.cfg.GroupName),
		LogStreamName: aws.String(c.stream),
		LogEvents:     wire,
	}
	if !c.cfg.DisableSequenceToken {
		in.SequenceToken = c.token
	}
	out, err := c.api.PutLogEvents(ctx, in)
	if err != nil {
		return fmt.Errorf("putting %d events to %s/%s: %w", len(wire), c.cfg.GroupName, c.stream, err)
	}
	if !c.cfg.DisableSequenceToken {
		c.token = out.NextSequenceToken
	}
	return nil
}

func (c *Channel) ensureLogGroup(ctx context.Context) error {
	group, err := c.findLogGroup(ctx, c.cfg.GroupName)
	if err != nil {
		return err
	}
	if group != nil {
		return nil
	}
	c.sink.Info(fmt.Sprintf("creating log group %q", c.cfg.GroupName))
	_, err = c.api.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{
		LogGroupName: aws.String(c.cfg.GroupName),
	})
	if err != nil {
		if isCreationConflict(err) {
			// another writer got there first, the group is usable anyway
			c.sink.Error(fmt.Sprintf("couldn't create log group %q", c.cfg.GroupName), err)
			return nil
		}
		return fmt.Errorf("creating log group %q: %w", c.cfg.GroupName, err)
	}
	return nil
}

func (c *Channel) findLogGroup(ctx context.Context, name string) (*types.LogGroup, error) {
	// the API filters by prefix, so "app" also returns "app-audit"; every
	// candidate needs an exact name comparison
	out, err := c.api.DescribeLogGroups(ctx, &cloudwatchlogs.DescribeLogGroupsInput{
		LogGroupNamePrefix: aws.String(name),
	})
	if err != nil {
		return nil, fmt.Errorf("describing log groups %q: %w", name, err)
	}
	for i := range out.LogGroups {
		if aws.ToString(out.LogGroups[i].LogGroupName) == name {
			return &out.LogGroups[i], nil
		}
	}
	return nil, nil
}

func (c *Channel) openLogStream(ctx context.Context, name string) error {
	stream, err := c.findLogStream(ctx, name)
	if err != nil {
		return err
	}
	if stream == nil {
		c.sink.Info(fmt.Sprintf("creating log stream %q in group %q", name, c.cfg.GroupName))
		_, err := c.api.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
			LogGroupName:  aws.String(c.cfg.GroupName),
			LogStreamName: aws.String(name),
		})
		if err != nil {
			return fmt.Errorf("creating log stream %s/%s: %w", c.cfg.GroupName, name, err)
		}
		c.token = nil
		return nil
	}
	c.token = stream.UploadSequenceToken
	return nil
}

func (c *Channel) findLogStream(ctx context.Context, name string) (*types.LogStream, error) {
	out, err := c.api.DescribeLogStreams(ctx, &cloudwatchlogs.DescribeLogStreamsInput{
		LogGroupName:        aws.String(c.cfg.GroupName),
		LogStreamNamePrefix: aws.String(name),
	})
	if err != nil {
		return nil, fmt.Errorf("describing log streams %s/%s: %w", c.cfg.GroupName, name, err)
	}
	for i := range out.LogStreams {
		if aws.ToString(out.LogStreams[i].LogStreamName) == name {
			return &out.LogStreams[i], nil
		}
	}
	return nil, nil
}

// the group already exists, or a create/delete on it is in flight
func isCreationConflict(err error) bool {
	var aborted *types.OperationAbortedException
	var exists *types.ResourceAlreadyExistsException
	return errors.As(err, &aborted) || errors.As(err, &exists)
}
