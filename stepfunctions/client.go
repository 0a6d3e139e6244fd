package stepfunctions

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/smithy-go"

	"flowrunner/flows"
	"flowrunner/internal/logging"
)

type sfnAPI interface {
	ListStateMachines(ctx context.Context, params *sfn.ListStateMachinesInput, optFns ...func(*sfn.Options)) (*sfn.ListStateMachinesOutput, error)
	DescribeStateMachine(ctx context.Context, params *sfn.DescribeStateMachineInput, optFns ...func(*sfn.Options)) (*sfn.DescribeStateMachineOutput, error)
	CreateStateMachine(ctx context.Context, params *sfn.CreateStateMachineInput, optFns ...func(*sfn.Options)) (*sfn.CreateStateMachineOutput, error)
	ListExecutions(ctx context.Context, params *sfn.ListExecutionsInput, optFns ...func(*sfn.Options)) (*sfn.ListExecutionsOutput, error)
	DescribeExecution(ctx context.Context, params *sfn.DescribeExecutionInput, optFns ...func(*sfn.Options)) (*sfn.DescribeExecutionOutput, error)
	StartExecution(ctx context.Context, params *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
	StopExecution(ctx context.Context, params *sfn.StopExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StopExecutionOutput, error)
	GetExecutionHistory(ctx context.Context, params *sfn.GetExecutionHistoryInput, optFns ...func(*sfn.Options)) (*sfn.GetExecutionHistoryOutput, error)
}

type logsAPI interface {
	FilterLogEvents(ctx context.Context, params *cloudwatchlogs.FilterLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.FilterLogEventsOutput, error)
}

// Client runs flows on AWS Step Functions and inspects existing state machines.
type Client struct {
	sfnClient  sfnAPI
	logsClient logsAPI
	roleARN    string
	logger     *slog.Logger
	now        func() time.Time
}

var (
	_ flows.Service   = (*Client)(nil)
	_ flows.Registrar = (*Client)(nil)
	_ flows.RunLogger = (*Client)(nil)
	_ flows.Canceler  = (*Client)(nil)
)

// NewClient loads the default AWS configuration for region. roleARN is only needed to
// deploy new state machines.
func NewClient(ctx context.Context, region, roleARN string, logger *slog.Logger) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, flows.Configf("failed to load AWS config").WithCause(err)
	}
	return newClient(sfn.NewFromConfig(cfg), cloudwatchlogs.NewFromConfig(cfg), roleARN, logger), nil
}

func newClient(sfnClient sfnAPI, logsClient logsAPI, roleARN string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Client{
		sfnClient:  sfnClient,
		logsClient: logsClient,
		roleARN:    roleARN,
		logger:     logger,
		now:        time.Now,
	}
}

// mapError translates AWS API errors into the flows error taxonomy.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var out *flows.Error
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ExecutionDoesNotExist", "StateMachineDoesNotExist", "ResourceNotFound", "ResourceNotFoundException":
			out = flows.NotFoundf("%s: %s", op, apiErr.ErrorMessage())
		case "InvalidDefinition", "InvalidExecutionInput", "InvalidName", "InvalidArn", "ValidationException":
			out = flows.Validationf("%s: %s", op, apiErr.ErrorMessage())
		case "ExecutionAlreadyExists", "StateMachineAlreadyExists":
			out = flows.Conflictf("%s: %s", op, apiErr.ErrorMessage())
		case "AccessDeniedException", "UnrecognizedClientException", "ExpiredTokenException", "InvalidSignatureException":
			out = flows.Authorizationf("%s: %s", op, apiErr.ErrorMessage())
		case "ThrottlingException", "ServiceUnavailable", "InternalServerError", "RequestTimeout":
			out = flows.Transientf("%s: %s", op, apiErr.ErrorMessage())
		default:
			out = flows.Validationf("%s: %s", op, apiErr.ErrorMessage())
		}
		return out.WithCause(err)
	}
	return flows.Transientf("%s did not complete", op).WithCause(err)
}
