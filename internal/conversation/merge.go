// Package conversation reconciles the server's canonical message history with
// messages created locally that the server has not acknowledged yet.
package conversation

import (
	"cmp"
	"slices"
	"time"

	"github.com/raphaelgruber/pmchat/internal/models"
)

// Options configures duplicate detection.
type Options struct {
	// UserWindow is how far apart two user messages with the same content may be
	// and still count as the same message.
	UserWindow time.Duration
	// AssistantWindow is the same for assistant messages.
	AssistantWindow time.Duration
}

// DefaultOptions returns the default de-duplication windows.
func DefaultOptions() Options {
	return Options{UserWindow: 10 * time.Second, AssistantWindow: 3 * time.Second}
}

func (o Options) window(r models.Role) time.Duration {
	if r == models.RoleUser {
		return o.UserWindow
	}
	return o.AssistantWindow
}

func (o Options) sameMessage(a, b models.Message) bool {
	return a.Role == b.Role && a.Content == b.Content && absDuration(a.CreatedAt.Sub(b.CreatedAt)) <= o.window(a.Role)
}

// Merge returns canonical plus the local messages still waiting for the server,
// ordered by creation time. Neither input is modified.
//
// A local message is acknowledged when a canonical message carries its server
// ID or, when either side lacks one, has the same role and content within the
// role's window. Matching is one-to-one, closest timestamps first. Acknowledged
// messages keep their local-only fields. Local messages that are neither
// acknowledged nor pending were deleted on the server and are dropped.
func Merge(canonical, local []models.Message, opts Options) []models.Message {
	canonMatch := make([]int, len(canonical))
	for i := range canonMatch {
		canonMatch[i] = -1
	}
	localMatched := make([]bool, len(local))

	byID := make(map[string]int, len(canonical))
	for ci, c := range canonical {
		if c.ID != "" {
			byID[c.ID] = ci
		}
	}
	for li, l := range local {
		if l.ID == "" {
			continue
		}
		if ci, ok := byID[l.ID]; ok && canonMatch[ci] < 0 {
			canonMatch[ci] = li
			localMatched[li] = true
		}
	}

	type candidate struct {
		li, ci int
		dist   time.Duration
	}
	var candidates []candidate
	for li, l := range local {
		if localMatched[li] {
			continue
		}
		for ci, c := range canonical {
			if canonMatch[ci] >= 0 || (l.ID != "" && c.ID != "") {
				continue
			}
			if opts.sameMessage(l, c) {
				candidates = append(candidates, candidate{li: li, ci: ci, dist: absDuration(l.CreatedAt.Sub(c.CreatedAt))})
			}
		}
	}
	slices.SortFunc(candidates, func(a, b candidate) int {
		return cmp.Or(
			cmp.Compare(a.dist, b.dist),
			local[a.li].CreatedAt.Compare(local[b.li].CreatedAt),
			cmp.Compare(local[a.li].ClientID, local[b.li].ClientID),
			cmp.Compare(a.ci, b.ci),
			cmp.Compare(a.li, b.li),
		)
	})
	for _, cand := range candidates {
		if localMatched[cand.li] || canonMatch[cand.ci] >= 0 {
			continue
		}
		canonMatch[cand.ci] = cand.li
		localMatched[cand.li] = true
	}

	out := make([]models.Message, 0, len(canonical)+len(local))
	for ci, c := range canonical {
		m := c
		m.Pending = false
		if li := canonMatch[ci]; li >= 0 {
			carryLocal(&m, local[li])
		}
		out = append(out, m)
	}
	var waiting []models.Message
	for li, l := range local {
		if !localMatched[li] && l.Pending {
			waiting = append(waiting, l)
		}
	}
	slices.SortFunc(waiting, func(a, b models.Message) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ClientID, b.ClientID))
	})
	out = append(out, waiting...)

	sortByTime(out)
	return collapse(out, opts)
}

// carryLocal copies local-only fields from src onto dst where src has them.
func carryLocal(dst *models.Message, src models.Message) {
	if src.CreatedEntityID != "" {
		dst.CreatedEntityID = src.CreatedEntityID
		dst.CreatedEntityKind = src.CreatedEntityKind
	}
	if src.ClientID != "" {
		dst.ClientID = src.ClientID
	}
	if src.JustStreamed {
		dst.JustStreamed = true
	}
}

// fillLocal is carryLocal for a dropped duplicate: it only fills fields dst
// does not have yet.
func fillLocal(dst *models.Message, src models.Message) {
	if dst.CreatedEntityID == "" && src.CreatedEntityID != "" {
		dst.CreatedEntityID = src.CreatedEntityID
		dst.CreatedEntityKind = src.CreatedEntityKind
	}
	if dst.ClientID == "" {
		dst.ClientID = src.ClientID
	}
	if src.JustStreamed {
		dst.JustStreamed = true
	}
}

// collapse drops messages that repeat an earlier (role, content) within the
// window. A canonical duplicate replaces a pending survivor; local-only fields
// of the dropped message fill the survivor's empty ones.
func collapse(msgs []models.Message, opts Options) []models.Message {
	type dedupKey struct {
		role    models.Role
		content string
	}
	last := make(map[dedupKey]int, len(msgs))
	out := msgs[:0]
	collapsed := false

	for _, m := range msgs {
		k := dedupKey{m.Role, m.Content}
		if i, ok := last[k]; ok && opts.sameMessage(out[i], m) {
			kept := out[i]
			if kept.Pending && !m.Pending {
				fillLocal(&m, kept)
				out[i] = m
			} else {
				fillLocal(&out[i], m)
			}
			collapsed = true
			continue
		}
		last[k] = len(out)
		out = append(out, m)
	}

	if collapsed {
		sortByTime(out)
	}
	return out
}

// sortByTime orders by CreatedAt; ties keep their current order, which places
// canonical messages before pending ones.
func sortByTime(msgs []models.Message) {
	slices.SortStableFunc(msgs, func(a, b models.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
