package research

import (
	"context"
	"fmt"
	"strings"

	"github.com/flemzord/scout/internal/mail"
	"github.com/flemzord/scout/internal/search"
	"github.com/flemzord/scout/internal/tool"
)

// Tool names as advertised to the planner.
const (
	ToolCreatePlan   = "create_todo_plan"
	ToolUpdateStatus = "update_todo_status"
	ToolSearch       = "internet_search"
	ToolSendEmail    = "send_research_email"
)

// Step statuses accepted by update_todo_status.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// PlanTool formats the research plan. Every step starts out PENDING.
func PlanTool() *tool.Definition {
	return tool.MustDefinition(ToolCreatePlan,
		"Create a TODO planning list for the research task.",
		[]tool.Param{
			{Name: "email", Type: tool.TypeString, Description: "User's email address", Required: true},
			{Name: "research_topic", Type: tool.TypeString, Description: "The topic to research", Required: true},
			{Name: "steps", Type: tool.TypeArray, Items: tool.TypeString, Description: "List of steps to complete the research", Required: true},
		},
		func(_ context.Context, args tool.Args) (string, error) {
			var b strings.Builder
			fmt.Fprintf(&b, "Research Plan for: %s\n", args.String("research_topic"))
			fmt.Fprintf(&b, "Report will be sent to: %s\n\n", args.String("email"))
			b.WriteString("Steps:\n")
			for i, step := range args.Strings("steps") {
				fmt.Fprintf(&b, "%d. %s [PENDING]\n", i+1, step)
			}
			return "TODO plan created successfully:\n" + b.String(), nil
		})
}

// UpdateStatusTool confirms a step status change. The plan lives only in
// the conversation, so the step number is not checked.
func UpdateStatusTool() *tool.Definition {
	return tool.MustDefinition(ToolUpdateStatus,
		"Update the status of a TODO item.",
		[]tool.Param{
			{Name: "step_number", Type: tool.TypeInteger, Description: "The step number to update", Required: true},
			{Name: "status", Type: tool.TypeString, Description: "New status (pending, in_progress, completed)", Required: true,
				Enum: []string{StatusPending, StatusInProgress, StatusCompleted}},
		},
		func(_ context.Context, args tool.Args) (string, error) {
			step, err := args.Int("step_number")
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Step %d status updated to: %s", step, strings.ToUpper(args.String("status"))), nil
		})
}

// SearchTool runs a web search through s and formats the hits.
func SearchTool(s search.Searcher) *tool.Definition {
	return tool.MustDefinition(ToolSearch,
		"Run a web search.",
		[]tool.Param{
			{Name: "query", Type: tool.TypeString, Description: "Search query", Required: true},
			{Name: "max_results", Type: tool.TypeInteger, Description: "Maximum number of results to return", Default: search.DefaultMaxResults},
			{Name: "topic", Type: tool.TypeString, Description: "Search topic category", Enum: search.Topics(), Default: string(search.TopicGeneral)},
			{Name: "include_raw_content", Type: tool.TypeBoolean, Description: "Whether to include raw content", Default: false},
		},
		func(ctx context.Context, args tool.Args) (string, error) {
			query := args.String("query")
			maxResults, err := args.Int("max_results")
			if err != nil {
				return "", err
			}
			results, err := s.Search(ctx, search.Query{
				Query:             query,
				MaxResults:        maxResults,
				Topic:             search.Topic(args.String("topic")),
				IncludeRawContent: args.Bool("include_raw_content"),
			})
			if err != nil {
				return "", err
			}
			return search.Format(query, results), nil
		})
}

// notSentPrefix opens the result of a preview-only delivery so it can never
// be mistaken for a real send.
const notSentPrefix = "Email NOT sent: no mail transport configured (preview only). Intended recipient: "

// EmailTool sends the report through sender.
func EmailTool(sender mail.Sender) *tool.Definition {
	return tool.MustDefinition(ToolSendEmail,
		"Send research report via email.",
		[]tool.Param{
			{Name: "to", Type: tool.TypeString, Description: "Recipient email address", Required: true},
			{Name: "subject", Type: tool.TypeString, Description: "Email subject", Required: true},
			{Name: "body", Type: tool.TypeString, Description: "Email body with research report", Required: true},
		},
		func(ctx context.Context, args tool.Args) (string, error) {
			msg := mail.Message{
				To:      args.String("to"),
				Subject: args.String("subject"),
				Body:    args.String("body"),
			}
			d, err := sender.Send(ctx, msg)
			if err != nil {
				return "", err
			}
			if !d.Sent {
				return notSentPrefix + msg.To + "\n" + d.Preview, nil
			}
			return "Research report email sent successfully to " + msg.To + "\n" + d.Preview, nil
		})
}
