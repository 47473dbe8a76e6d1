package postviews

import (
	"bytes"
	"maps"
	"strings"

	"zgo.at/errors"
	"zgo.at/json"
	"zgo.at/zvalidate"
)

// PostID identifies a post; it's the part after "#post-" in the URL fragment.
//
// It's opaque and not validated.
type PostID string

// Views maps posts to their view count.
type Views map[PostID]int

// ParseViews parses a snapshot: a JSON object mapping post IDs to non-negative
// integer counts, such as:
//
//	{"7": 5, "hello-world": 1200}
//
// A "null" snapshot is the same as an empty object. The entire snapshot is
// rejected if any count is invalid.
func ParseViews(data []byte) (Views, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.Wrap(ErrSnapshot, "ParseViews: empty document")
	}

	var raw map[PostID]any
	d := json.NewDecoder(bytes.NewReader(data))
	d.UseNumber()
	if err := d.Decode(&raw); err != nil {
		return nil, errors.Errorf("ParseViews: %w: %w", ErrSnapshot, err)
	}

	v := zvalidate.New()
	views := make(Views, len(raw))
	for id, c := range raw {
		n, ok := c.(json.Number)
		if !ok {
			v.Append(string(id), "must be a number")
			continue
		}
		i, err := n.Int64()
		if err != nil {
			v.Append(string(id), "must be an integer")
			continue
		}
		if i < 0 {
			v.Append(string(id), "must be zero or more")
			continue
		}
		views[id] = int(i)
	}
	if v.HasErrors() {
		return nil, errors.Errorf("ParseViews: %w: %w", ErrSnapshot, v.ErrorOrNil())
	}
	return views, nil
}

// Count gets the view count for this post; this is 0 for unknown posts.
func (v Views) Count(id PostID) int { return v[id] }

// Incr increments the view count for this post by one and returns the new
// count.
func (v Views) Incr(id PostID) int {
	v[id]++
	return v[id]
}

// Copy returns a copy that can be modified without affecting v.
func (v Views) Copy() Views {
	if v == nil {
		return Views{}
	}
	return maps.Clone(v)
}

// JSON serializes the views as a JSON object with the keys sorted.
func (v Views) JSON() ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[PostID]int(v))
}

func (v Views) String() string {
	b, err := v.JSON()
	if err != nil {
		return "<" + err.Error() + ">"
	}
	return string(b)
}

const fragmentPrefix = "#post-"

// PostFromFragment gets the post ID from a URL fragment like "#post-42".
//
// It returns false if the fragment is in any other format, including a
// "#post-" without ID.
func PostFromFragment(fragment string) (PostID, bool) {
	id, ok := strings.CutPrefix(fragment, fragmentPrefix)
	if !ok || id == "" {
		return "", false
	}
	return PostID(id), true
}

// ElementID is the HTML id of the element that displays the views for this
// post.
func ElementID(id PostID) string { return "view-count-" + string(id) }

// PostFromElementID is the reverse of ElementID.
func PostFromElementID(elemID string) (PostID, bool) {
	id, ok := strings.CutPrefix(elemID, "view-count-")
	if !ok || id == "" {
		return "", false
	}
	return PostID(id), true
}

// Keys used in the local and session stores.
const (
	// LocalKey is the key of the serialized views in the fallback store.
	LocalKey = "blog-views"

	// SessionValue is stored in the session store for every counted post.
	SessionValue = "true"
)

// SessionKey is the session store key that marks a post as counted in this
// session.
func SessionKey(id PostID) string { return "viewed-" + string(id) }
