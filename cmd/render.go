package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"flowrunner/flows"
	"flowrunner/globus"
)

const maxCellWidth = 100

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func truncate(text string) string {
	if len(text) > maxCellWidth {
		return text[:maxCellWidth-3] + "..."
	}
	return text
}

func displayFlow(w io.Writer, flow *flows.Flow) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Flow ID", "Title", "Scope"})
	table.Append([]string{flow.ID, flow.Title, flow.Scope})
	fmt.Fprintln(w, "Flow:")
	table.Render()
	fmt.Fprintln(w)
}

func displayRun(w io.Writer, handle *flows.RunHandle) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Run ID", "Label", "Status", "Start Time", "Completion Time"})
	table.Append([]string{
		handle.RunID,
		handle.Label,
		string(handle.Status),
		formatTime(handle.StartTime),
		formatTime(handle.CompletionTime),
	})
	fmt.Fprintln(w, "Run:")
	table.Render()
	fmt.Fprintln(w)
}

func displayRuns(w io.Writer, handles []*flows.RunHandle) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Run ID", "Flow ID", "Label", "Status", "Start Time"})
	for _, handle := range handles {
		table.Append([]string{
			handle.RunID,
			handle.FlowID,
			handle.Label,
			string(handle.Status),
			formatTime(handle.StartTime),
		})
	}
	fmt.Fprintln(w, "Runs:")
	table.Render()
	fmt.Fprintln(w)
}

func displayLog(w io.Writer, entries []flows.LogEntry) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Time", "Code", "Description"})
	for _, entry := range entries {
		table.Append([]string{formatTime(entry.Time), entry.Code, truncate(entry.Description)})
	}
	fmt.Fprintln(w, "Events:")
	table.Render()
	fmt.Fprintln(w)
}

func displayIdentity(w io.Writer, identity *globus.Identity) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Identity", "Username", "Email", "Name"})
	table.Append([]string{identity.Sub, identity.PreferredUsername, identity.Email, identity.Name})
	table.Render()
	fmt.Fprintln(w)
}

func displayGrants(w io.Writer, grants []*globus.Grant) {
	sort.Slice(grants, func(i, j int) bool { return grants[i].ResourceServer < grants[j].ResourceServer })
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Resource Server", "Scopes", "Expires"})
	for _, grant := range grants {
		expires := "never"
		if grant.Token != nil && !grant.Token.Expiry.IsZero() {
			expires = formatTime(grant.Token.Expiry)
		}
		table.Append([]string{grant.ResourceServer, truncate(strings.Join(grant.Scopes, " ")), expires})
	}
	fmt.Fprintln(w, "Credentials:")
	table.Render()
	fmt.Fprintln(w)
}
