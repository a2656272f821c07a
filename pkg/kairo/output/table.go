package output

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/kairo-dev/kairo/pkg/kairo/client"
)

// Field is one row of a two-column table.
type Field struct {
	Name  string
	Value string
}

func WriteFields(w io.Writer, fields []Field) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	for _, f := range fields {
		value := f.Value
		if value == "" {
			value = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s:\t%s\n", f.Name, value)
	}
	_ = tw.Flush()
}

func WriteSessionTable(w io.Writer, session *client.Session) {
	fields := []Field{
		{Name: "NAME", Value: session.User.Name},
		{Name: "EMAIL", Value: session.User.Email},
		{Name: "ID", Value: session.User.ID},
	}
	if session.Session != nil && !session.Session.ExpiresAt.IsZero() {
		fields = append(fields, Field{Name: "SESSION EXPIRES", Value: FormatTime(session.Session.ExpiresAt)})
	}
	WriteFields(w, fields)
}

func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
