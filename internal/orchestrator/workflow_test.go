package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"
)

// Stub activity functions so the test environment recognizes the activity
// names; OnActivity mocks override the actual bodies.

func stubAnalyzeSubmission(_ context.Context, _ AnalyzeSubmissionInput) (AnalyzeSubmissionOutput, error) {
	panic("stub: should be mocked")
}

func stubPrepareExecution(_ context.Context, _ PrepareExecutionInput) (PrepareExecutionOutput, error) {
	panic("stub: should be mocked")
}

func stubExecuteIsolate(_ context.Context, _ ExecuteIsolateInput) (ExecuteIsolateOutput, error) {
	panic("stub: should be mocked")
}

type CodeModeWorkflowTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env *testsuite.TestWorkflowEnvironment
}

func TestCodeModeWorkflowSuite(t *testing.T) {
	suite.Run(t, new(CodeModeWorkflowTestSuite))
}

func (s *CodeModeWorkflowTestSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	s.env.RegisterActivityWithOptions(stubAnalyzeSubmission, activity.RegisterOptions{Name: ActivityAnalyzeSubmission})
	s.env.RegisterActivityWithOptions(stubPrepareExecution, activity.RegisterOptions{Name: ActivityPrepareExecution})
	s.env.RegisterActivityWithOptions(stubExecuteIsolate, activity.RegisterOptions{Name: ActivityExecuteIsolate})
}

func (s *CodeModeWorkflowTestSuite) AfterTest(suiteName, testName string) {
	s.env.AssertExpectations(s.T())
}

func (s *CodeModeWorkflowTestSuite) TestRejectedSubmissionNeverReachesExecution() {
	s.env.OnActivity(ActivityAnalyzeSubmission, mock.Anything, mock.Anything).
		Return(AnalyzeSubmissionOutput{
			Rejected: true,
			Error:    &ErrorDetail{Kind: "validation_error", Message: "rule 2: dunder attribute access"},
		}, nil).Once()

	s.env.ExecuteWorkflow(CodeModeWorkflow, SubmissionInput{
		Code:          "x.__class__\n",
		TimeoutMs:     5000,
		CorrelationID: "corr-1",
		Requester:     "user-1",
	})

	require.True(s.T(), s.env.IsWorkflowCompleted())
	require.NoError(s.T(), s.env.GetWorkflowError())

	var result ExecutionResult
	require.NoError(s.T(), s.env.GetWorkflowResult(&result))
	require.NotNil(s.T(), result.Error)
	assert.Equal(s.T(), "validation_error", result.Error.Kind)
	assert.Empty(s.T(), result.Value)
}

func (s *CodeModeWorkflowTestSuite) TestAcceptedSubmissionRunsPrepareThenExecute() {
	s.env.OnActivity(ActivityAnalyzeSubmission, mock.Anything, mock.Anything).
		Return(AnalyzeSubmissionOutput{}, nil).Once()
	s.env.OnActivity(ActivityPrepareExecution, mock.Anything, mock.Anything).
		Return(PrepareExecutionOutput{
			BindingMethods: map[string][]string{"github": {"CreateIssue"}},
		}, nil).Once()
	s.env.OnActivity(ActivityExecuteIsolate, mock.Anything, mock.Anything).
		Return(ExecuteIsolateOutput{
			Value: float64(42),
			Logs:  []string{"ok"},
			Tier:  "T3",
		}, nil).Once()

	s.env.ExecuteWorkflow(CodeModeWorkflow, SubmissionInput{
		Code:          "result = 42\n",
		TimeoutMs:     5000,
		CorrelationID: "corr-2",
		Requester:     "user-1",
	})

	require.True(s.T(), s.env.IsWorkflowCompleted())
	require.NoError(s.T(), s.env.GetWorkflowError())

	var result ExecutionResult
	require.NoError(s.T(), s.env.GetWorkflowResult(&result))
	assert.Nil(s.T(), result.Error)
	assert.Equal(s.T(), float64(42), result.Value)
	assert.Equal(s.T(), "T3", result.Tier)
}

func (s *CodeModeWorkflowTestSuite) TestIsolateFailureSurfacesErrorDetail() {
	s.env.OnActivity(ActivityAnalyzeSubmission, mock.Anything, mock.Anything).
		Return(AnalyzeSubmissionOutput{}, nil).Once()
	s.env.OnActivity(ActivityPrepareExecution, mock.Anything, mock.Anything).
		Return(PrepareExecutionOutput{}, nil).Once()
	s.env.OnActivity(ActivityExecuteIsolate, mock.Anything, mock.Anything).
		Return(ExecuteIsolateOutput{
			Error: &ErrorDetail{Kind: "timeout", Message: "deadline exceeded"},
			Tier:  "T3",
		}, nil).Once()

	s.env.ExecuteWorkflow(CodeModeWorkflow, SubmissionInput{
		Code:          "while True: pass\n",
		TimeoutMs:     1000,
		CorrelationID: "corr-3",
		Requester:     "user-1",
	})

	require.True(s.T(), s.env.IsWorkflowCompleted())
	require.NoError(s.T(), s.env.GetWorkflowError())

	var result ExecutionResult
	require.NoError(s.T(), s.env.GetWorkflowResult(&result))
	require.NotNil(s.T(), result.Error)
	assert.Equal(s.T(), "timeout", result.Error.Kind)
}

// TestZeroDeadlineIsImmediateTimeout covers spec.md §8's boundary
// behavior "Submission deadline 0 ⇒ immediate Timeout, no tool
// invocations": no activity is ever scheduled. No OnActivity mock is
// registered, so a scheduled activity would reach a panicking stub and
// fail the workflow, which the GetWorkflowError check below would catch.
func (s *CodeModeWorkflowTestSuite) TestZeroDeadlineIsImmediateTimeout() {
	s.env.ExecuteWorkflow(CodeModeWorkflow, SubmissionInput{
		Code:          "result = 1\n",
		TimeoutMs:     0,
		CorrelationID: "corr-4",
		Requester:     "user-1",
	})

	require.True(s.T(), s.env.IsWorkflowCompleted())
	require.NoError(s.T(), s.env.GetWorkflowError())

	var result ExecutionResult
	require.NoError(s.T(), s.env.GetWorkflowResult(&result))
	require.NotNil(s.T(), result.Error)
	assert.Equal(s.T(), "timeout", result.Error.Kind)
}
