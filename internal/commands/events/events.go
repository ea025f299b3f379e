// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package events implements "forgectl events list" and "forgectl events
// retry", grounded on GET /webhooks/{source}/events and POST
// /webhooks/{source}/retry/{event_id}, and on the teacher's
// management.NewRunsCommand's tabwriter table output.
package events

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/forgecd/forge/internal/client"
	"github.com/forgecd/forge/internal/commands/shared"
)

// NewCommand creates the "events" command with its list and retry subcommands.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect and retry webhook events recorded by forged",
	}
	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newRetryCommand())
	return cmd
}

func newListCommand() *cobra.Command {
	var (
		limit     int
		offset    int
		eventType string
	)
	cmd := &cobra.Command{
		Use:   "list <source>",
		Short: "List recorded events for a webhook source",
		Long: `List events forged has recorded for the given source (source_host,
issue_tracker, or agent), fetched from GET /webhooks/{source}/events.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(args[0], limit, offset, eventType)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of events to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "offset into the event log")
	cmd.Flags().StringVar(&eventType, "event-type", "", "filter by event type")
	return cmd
}

func newRetryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <source> <event-id>",
		Short: "Re-run processing for a stored event that has not reached a terminal status",
		Long: `Retry a single event by id, recorded under the given source, via
POST /webhooks/{source}/retry/{event_id}. Requires an API key with the
events.retry scope.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetry(args[0], args[1])
		},
	}
}

func runList(source string, limit, offset int, eventType string) error {
	c, err := shared.NewClient()
	if err != nil {
		return shared.NewExitError(shared.ExitGeneral, "build client", err)
	}

	path := fmt.Sprintf("/webhooks/%s/events?limit=%d&offset=%d", source, limit, offset)
	if eventType != "" {
		path += "&event_type=" + eventType
	}

	ctx := context.Background()
	result, err := c.Get(ctx, path)
	if err != nil {
		if client.IsDaemonUnreachable(err) {
			return shared.NewUnreachableError("forged unreachable", err)
		}
		return shared.NewExitError(shared.ExitGeneral, "fetch events", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(struct {
			shared.JSONResponse
			Events map[string]any `json:"events"`
		}{
			JSONResponse: shared.JSONResponse{Version: "1.0", Command: "events list", Success: true},
			Events:       result,
		})
	}

	events, _ := result["events"].([]any)
	if len(events) == 0 {
		fmt.Println(shared.RenderLabel("no events recorded for " + source))
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tRECEIVED")
	for _, raw := range events {
		e, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		fmt.Fprintf(tw, "%v\t%v\t%v\t%v\n", e["ID"], e["Type"], e["Status"], e["ReceivedAt"])
	}
	return tw.Flush()
}

func runRetry(source, eventID string) error {
	c, err := shared.NewClient()
	if err != nil {
		return shared.NewExitError(shared.ExitGeneral, "build client", err)
	}

	path := "/webhooks/" + source + "/retry/" + eventID
	ctx := context.Background()
	result, err := c.Post(ctx, path, nil)
	if err != nil {
		if client.IsDaemonUnreachable(err) {
			return shared.NewUnreachableError("forged unreachable", err)
		}
		return shared.NewExitError(shared.ExitGeneral, "retry event", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(struct {
			shared.JSONResponse
			Result map[string]any `json:"result"`
		}{
			JSONResponse: shared.JSONResponse{Version: "1.0", Command: "events retry", Success: true},
			Result:       result,
		})
	}

	fmt.Println(shared.RenderOK("event " + eventID + " re-enqueued for " + source))
	return nil
}
