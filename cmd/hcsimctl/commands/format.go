package commands

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not
// supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// resultXML mirrors the nested result tree sim.QueryResult renders.
type resultXML struct {
	Name     string      `xml:"name,attr"`
	Value    string      `xml:"value,attr"`
	Passed   string      `xml:"passed,attr"`
	Children []resultXML `xml:"result"`
}

type notificationXML struct {
	Time   string    `xml:"time,attr"`
	Type   string    `xml:"type,attr"`
	Detail string    `xml:"detail,attr"`
	Result resultXML `xml:"result"`
}

type scenarioXML struct {
	XMLName       xml.Name          `xml:"scenario"`
	Notifications []notificationXML `xml:"notification"`
}

func formatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "format <notifications.xml>",
		Short: "Pretty-print an hcsim notification stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read notification stream: %w", err)
			}

			var doc scenarioXML
			if err := xml.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("parse notification stream: %w", err)
			}

			out, err := renderNotifications(doc, outputFormat)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
}

func renderNotifications(doc scenarioXML, format string) (string, error) {
	switch format {
	case formatJSON:
		return renderNotificationsJSON(doc)
	case formatTable:
		return renderNotificationsTable(doc), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func renderNotificationsJSON(doc scenarioXML) (string, error) {
	b, err := json.MarshalIndent(doc.Notifications, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal notifications: %w", err)
	}
	return string(b), nil
}

func renderNotificationsTable(doc scenarioXML) string {
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTYPE\tRESULT\tDETAIL")
	for _, n := range doc.Notifications {
		result := n.Result.Name
		if n.Result.Passed != "" {
			result = fmt.Sprintf("%s=%s", n.Result.Name, n.Result.Passed)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", n.Time, n.Type, result, n.Detail)
	}
	w.Flush()
	return sb.String()
}
