package sim

import (
	"encoding/xml"
	"io"

	"github.com/dantte-lp/hcsim/internal/units"
)

// QueryResult is a node of the nested result tree a command-path exec()
// walk terminates on: either a bare measurement (Value) or a pass/fail
// assertion (Passed), plus whatever child results a fan-out aggregated.
type QueryResult struct {
	XMLName  xml.Name      `xml:"result"`
	Name     string        `xml:"name,attr"`
	Value    string        `xml:"value,attr,omitempty"`
	Passed   *bool         `xml:"passed,attr,omitempty"`
	Children []QueryResult `xml:"result,omitempty"`
}

// notification is the wire shape of one emitted XML element; Notificator
// callers never construct it directly, they go through Emit/EmitError.
type notification struct {
	XMLName xml.Name     `xml:"notification"`
	Time    float64      `xml:"time,attr"`
	Type    string       `xml:"type,attr"`
	Detail  string       `xml:"detail,attr,omitempty"`
	Result  *QueryResult `xml:"result"`
}

// Notificator streams the scenario run's notification feed out as one XML
// document, the shape spec.md §6 describes: a root element wrapping a
// sequence of notification elements, each carrying its virtual time in
// seconds and a type-derived payload.
type Notificator struct {
	enc        *xml.Encoder
	stylesheet string
	filter     func(kind string) bool
	started    bool
}

// NewNotificator builds a Notificator writing to w. filter, if non-nil, is
// consulted before every Emit; returning false suppresses that
// notification from the stream entirely.
func NewNotificator(w io.Writer, filter func(kind string) bool) *Notificator {
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	return &Notificator{enc: enc, filter: filter}
}

// SetStylesheet records an xml-stylesheet processing instruction to emit
// ahead of the root element; it must be called before the first Emit.
func (n *Notificator) SetStylesheet(name string) {
	n.stylesheet = name
}

func (n *Notificator) start() error {
	if n.started {
		return nil
	}
	n.started = true
	if n.stylesheet != "" {
		pi := xml.ProcInst{Target: "xml-stylesheet", Inst: []byte(`type="text/xsl" href="` + n.stylesheet + `"`)}
		if err := n.enc.EncodeToken(pi); err != nil {
			return err
		}
	}
	return n.enc.EncodeToken(xml.StartElement{Name: xml.Name{Local: "scenario"}})
}

// Emit writes one notification of kind at virtual time now, with an
// optional human-readable detail and/or nested query result.
func (n *Notificator) Emit(now units.Time, kind, detail string, result *QueryResult) error {
	if n.filter != nil && !n.filter(kind) {
		return nil
	}
	if err := n.start(); err != nil {
		return err
	}
	return n.enc.Encode(notification{
		Time:   now.Seconds(),
		Type:   kind,
		Detail: detail,
		Result: result,
	})
}

// Close emits the root element's closing tag and flushes the encoder. It
// must be called exactly once, after the run completes.
func (n *Notificator) Close() error {
	if !n.started {
		if err := n.start(); err != nil {
			return err
		}
	}
	if err := n.enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: "scenario"}}); err != nil {
		return err
	}
	return n.enc.Flush()
}
