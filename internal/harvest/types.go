package harvest

import "time"

// UnitState represents the lifecycle state of a WorkUnit.
type UnitState string

// WorkUnit states. Terminal states are final; retries are expressed by
// resubmitting the query in a later scheduling round, not by transitions.
const (
	UnitPending   UnitState = "pending"
	UnitRunning   UnitState = "running"
	UnitCompleted UnitState = "completed"
	UnitTimedOut  UnitState = "timed_out"
	UnitFailed    UnitState = "failed"
)

// Observer is a synthetic browsing identity used to diversify what a
// channel serves. It is never a real user account.
type Observer struct {
	ID        string   `json:"id" mapstructure:"id"`
	Age       int      `json:"age" mapstructure:"age"`
	Gender    string   `json:"gender" mapstructure:"gender"`
	Interests []string `json:"interests" mapstructure:"interests"`
	Device    string   `json:"device" mapstructure:"device"`
}

// WorkUnit is one (channel, observer, queries) assignment produced by the
// scheduler for a single round. Created per round, consumed once.
type WorkUnit struct {
	ChannelID string
	Observer  Observer
	Queries   []string
	Device    string
}

// ChannelPlan names one channel and the queries to harvest from it.
type ChannelPlan struct {
	ChannelID string   `json:"channel_id" mapstructure:"channel_id"`
	Queries   []string `json:"queries" mapstructure:"queries"`
}

// WorkPlan is the input to a scheduler round.
type WorkPlan struct {
	Channels []ChannelPlan `json:"channels" mapstructure:"channels"`
}

// Cookie is the persisted subset of a browser cookie. Sensitive cookies
// never reach disk; see the session package.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
	Path   string `json:"path"`
}

// RawSighting is one observed instance of sponsored content as emitted by a
// channel adapter. Immutable once emitted. Extra carries channel-specific
// metadata that has no fixed column.
type RawSighting struct {
	AdvertiserHint string         `json:"advertiser_hint,omitempty"`
	CreativeText   string         `json:"creative_text,omitempty"`
	Description    string         `json:"description,omitempty"`
	DestinationURL string         `json:"destination_url,omitempty"`
	DisplayURL     string         `json:"display_url,omitempty"`
	Position       int            `json:"position,omitempty"`
	CreativeKind   string         `json:"creative_kind,omitempty"`
	Placement      string         `json:"placement,omitempty"`
	AssetRef       string         `json:"asset_ref,omitempty"`
	ImageData      []byte         `json:"-"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// AdvertiserIdentity is the stable identity a destination resolves to.
// Sightings attach by domain membership, not by name string equality.
type AdvertiserIdentity struct {
	ID            string   `json:"id"`
	CanonicalName string   `json:"canonical_name"`
	KnownDomains  []string `json:"known_domains"`
}

// CreativePayload is the promoted creative content kept on a canonical row.
type CreativePayload struct {
	Text        string `json:"text,omitempty"`
	Description string `json:"description,omitempty"`
	Destination string `json:"destination,omitempty"`
	Kind        string `json:"kind,omitempty"`
	AssetRef    string `json:"asset_ref,omitempty"`
}

// CanonicalSighting is the deduplicated unit of truth. Rediscovery of the
// same ContentHash bumps LastSeen/SeenCount in place rather than inserting
// a new row.
type CanonicalSighting struct {
	ContentHash  string          `json:"content_hash"`
	AdvertiserID string          `json:"advertiser_id"`
	FirstSeen    time.Time       `json:"first_seen_at"`
	LastSeen     time.Time       `json:"last_seen_at"`
	SeenCount    int             `json:"seen_count"`
	ChannelID    string          `json:"channel_id"`
	Payload      CreativePayload `json:"creative_payload"`
}

// UnitReport summarizes one WorkUnit's outcome.
type UnitReport struct {
	ChannelID  string    `json:"channel_id"`
	ObserverID string    `json:"observer_id"`
	State      UnitState `json:"state"`
	Sightings  int       `json:"sightings"`
	Promoted   int       `json:"promoted"`
	Deduped    int       `json:"deduped"`
	Rejected   int       `json:"rejected"`
	Errors     int       `json:"errors"`
	Timeouts   int       `json:"timeouts"`
}

// HarvestReport aggregates a full scheduler round for operators.
type HarvestReport struct {
	RunID      string       `json:"run_id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Units      []UnitReport `json:"units"`
	Sightings  int          `json:"sightings"`
	Promoted   int          `json:"promoted"`
	Deduped    int          `json:"deduped"`
	Rejected   int          `json:"rejected"`
	Errors     int          `json:"errors"`
}

// ChannelErrors returns the total adapter error count for a channel.
func (r HarvestReport) ChannelErrors(channelID string) int {
	n := 0
	for _, u := range r.Units {
		if u.ChannelID == channelID {
			n += u.Errors
		}
	}
	return n
}

// ChannelPromoted returns the total promoted count for a channel.
func (r HarvestReport) ChannelPromoted(channelID string) int {
	n := 0
	for _, u := range r.Units {
		if u.ChannelID == channelID {
			n += u.Promoted
		}
	}
	return n
}
