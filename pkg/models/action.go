package models

// Action is the outcome of a lifecycle operation on a source record.
type Action string

const (
	ActionCreate   Action = "CREATE"
	ActionUpdate   Action = "UPDATE"
	ActionUptodate Action = "UPTODATE"
	ActionDiscard  Action = "DISCARD"
	ActionDelete   Action = "DELETE"
	ActionRedirect Action = "REDIRECT"
)

// MefAction tells the coordinator what happened (or must happen) to the cluster.
type MefAction string

const (
	MefActionCreate  MefAction = "CREATE"
	MefActionUpdate  MefAction = "UPDATE"
	MefActionDiscard MefAction = "DISCARD"
)

// Counters are the per-window harvest counters.
type Counters struct {
	Received   int `json:"received"`
	Created    int `json:"created"`
	Updated    int `json:"updated"`
	Uptodate   int `json:"uptodate"`
	Deleted    int `json:"deleted"`
	Redirected int `json:"redirected"`
	Discarded  int `json:"discarded"`
	Errors     int `json:"errors"`
}

// Count increments the counter matching action.
func (c *Counters) Count(action Action) {
	switch action {
	case ActionCreate:
		c.Created++
	case ActionUpdate:
		c.Updated++
	case ActionUptodate:
		c.Uptodate++
	case ActionDelete:
		c.Deleted++
	case ActionRedirect:
		c.Redirected++
	case ActionDiscard:
		c.Discarded++
	}
}

// Add accumulates other into c.
func (c *Counters) Add(other Counters) {
	c.Received += other.Received
	c.Created += other.Created
	c.Updated += other.Updated
	c.Uptodate += other.Uptodate
	c.Deleted += other.Deleted
	c.Redirected += other.Redirected
	c.Discarded += other.Discarded
	c.Errors += other.Errors
}

// Map is used for structured log fields.
func (c Counters) Map() map[string]any {
	return map[string]any{
		"received":   c.Received,
		"created":    c.Created,
		"updated":    c.Updated,
		"uptodate":   c.Uptodate,
		"deleted":    c.Deleted,
		"redirected": c.Redirected,
		"discarded":  c.Discarded,
		"errors":     c.Errors,
	}
}
