package chat

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"e2echat/cache"
	"e2echat/crypto"
	"e2echat/models"
)

// Phase is the lifecycle phase of a conversation.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseReady
	PhaseLoadingMore
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLoading:
		return "loading"
	case PhaseReady:
		return "ready"
	case PhaseLoadingMore:
		return "loading_more"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Snapshot is a copy of a conversation's state. Callers may keep and modify it.
type Snapshot struct {
	Conversation ConversationID
	Phase        Phase
	// Messages is ordered by CreatedAt ascending.
	Messages   []models.Message
	HasMore    bool
	PageOffset int
	// Typing lists the other participants currently typing, sorted.
	Typing []string
}

// timeline is the single live state of one conversation. Sessions for the same
// conversation share it, so work that completes after a session closed still
// lands in the state the next session sees.
type timeline struct {
	id    ConversationID
	key   crypto.Key
	cache *cache.Cache
	// cacheKey includes the owner so users sharing a cache never see each
	// other's plaintext.
	cacheKey string

	mu     sync.Mutex
	state  cache.State
	phase  Phase
	loaded bool
	paging bool
	// generation counts loads; a page requested before the latest load is stale.
	generation uint64
	// arrivals collects message ids merged while a load is in flight.
	arrivals  map[string]struct{}
	typing    map[string]struct{}
	listeners map[*Session]func(Snapshot)
}

func newTimeline(owner string, id ConversationID, key crypto.Key, c *cache.Cache) *timeline {
	cacheKey := id.cacheKey(owner)
	state := c.RestoreOrInit(cacheKey)
	state.Key = key
	return &timeline{
		id:        id,
		key:       key,
		cache:     c,
		cacheKey:  cacheKey,
		state:     state,
		typing:    make(map[string]struct{}),
		listeners: make(map[*Session]func(Snapshot)),
	}
}

func (t *timeline) listen(s *Session, fn func(Snapshot)) {
	t.mu.Lock()
	t.listeners[s] = fn
	t.mu.Unlock()
}

func (t *timeline) unlisten(s *Session) {
	t.mu.Lock()
	delete(t.listeners, s)
	t.mu.Unlock()
}

func (t *timeline) snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *timeline) snapshotLocked() Snapshot {
	messages := make([]models.Message, len(t.state.Messages))
	for i, message := range t.state.Messages {
		messages[i] = message.Clone()
	}
	typing := make([]string, 0, len(t.typing))
	for userID := range t.typing {
		typing = append(typing, userID)
	}
	sort.Strings(typing)
	return Snapshot{
		Conversation: t.id,
		Phase:        t.phase,
		Messages:     messages,
		HasMore:      t.state.HasMore,
		PageOffset:   t.state.PageOffset,
		Typing:       typing,
	}
}

// unlockAndNotify must be called with t.mu held. Listeners run without the lock.
func (t *timeline) unlockAndNotify(persist bool) {
	if persist {
		t.cache.Put(t.cacheKey, t.state)
	}
	if len(t.listeners) == 0 {
		t.mu.Unlock()
		return
	}
	snapshot := t.snapshotLocked()
	listeners := make([]func(Snapshot), 0, len(t.listeners))
	for _, fn := range t.listeners {
		listeners = append(listeners, fn)
	}
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}

// update applies fn to the messages. fn reports whether it changed anything.
func (t *timeline) update(fn func(state *cache.State) bool) bool {
	t.mu.Lock()
	if !fn(&t.state) {
		t.mu.Unlock()
		return false
	}
	t.unlockAndNotify(true)
	return true
}

func (t *timeline) isLoaded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loaded
}

// beginLoad starts a load of the newest page and returns its generation. Only
// the latest load may finish or abort.
func (t *timeline) beginLoad() uint64 {
	t.mu.Lock()
	t.phase = PhaseLoading
	t.generation++
	generation := t.generation
	t.arrivals = make(map[string]struct{})
	t.unlockAndNotify(false)
	return generation
}

func (t *timeline) abortLoad(generation uint64) {
	t.mu.Lock()
	if generation != t.generation {
		t.mu.Unlock()
		return
	}
	t.arrivals = nil
	if t.loaded {
		t.phase = PhaseReady
	} else {
		t.phase = PhaseIdle
	}
	t.unlockAndNotify(false)
}

// finishLoad replaces the window with the freshly loaded newest page. Pending
// sends and messages merged while the load was in flight are kept. A load
// superseded by a newer one is dropped.
func (t *timeline) finishLoad(generation uint64, page []models.Message, offset int) {
	t.mu.Lock()
	if generation != t.generation {
		t.mu.Unlock()
		return
	}
	messages := page
	for _, message := range t.state.Messages {
		_, arrived := t.arrivals[message.ID]
		if !message.Pending() && !arrived {
			continue
		}
		if indexOf(messages, message.ID) < 0 {
			messages = insertOrdered(messages, message)
		}
	}
	t.state.Messages = messages
	t.state.PageOffset = offset
	t.state.HasMore = offset > 0
	t.arrivals = nil
	t.loaded = true
	t.phase = PhaseReady
	t.unlockAndNotify(true)
}

// pageRequest is a claimed pagination slot.
type pageRequest struct {
	offset     int
	generation uint64
}

// beginPage claims the pagination slot. ok is false when a page is already in
// flight or nothing older exists.
func (t *timeline) beginPage() (req pageRequest, ok bool, err error) {
	t.mu.Lock()
	if t.paging || (t.phase == PhaseReady && !t.state.HasMore) {
		t.mu.Unlock()
		return pageRequest{}, false, nil
	}
	if t.phase != PhaseReady {
		t.mu.Unlock()
		return pageRequest{}, false, ErrNotReady
	}
	t.paging = true
	t.phase = PhaseLoadingMore
	req = pageRequest{offset: t.state.PageOffset, generation: t.generation}
	t.unlockAndNotify(false)
	return req, true, nil
}

// endPage releases the pagination slot and, when succeeded, merges the older
// page and moves the window start to offset. A page that was requested before
// a newer load no longer borders the window and is dropped.
func (t *timeline) endPage(req pageRequest, older []models.Message, offset int, succeeded bool) int {
	t.mu.Lock()
	t.paging = false
	if req.generation != t.generation {
		t.mu.Unlock()
		return 0
	}
	t.phase = PhaseReady
	added := 0
	if succeeded {
		t.state.Messages, added = mergeMessages(t.state.Messages, older)
		t.state.PageOffset = offset
		t.state.HasMore = offset > 0
	}
	t.unlockAndNotify(succeeded)
	return added
}

// addPending shows an optimistic entry. Timelines that never loaded are left
// alone; their next load picks the row up.
func (t *timeline) addPending(message models.Message) bool {
	return t.update(func(state *cache.State) bool {
		if !t.loaded {
			return false
		}
		state.Messages = insertOrdered(state.Messages, message)
		return true
	})
}

// confirm swaps the optimistic entry tempID for the stored message.
func (t *timeline) confirm(tempID string, message models.Message) {
	t.update(func(state *cache.State) bool {
		changed := false
		if i := indexOf(state.Messages, tempID); i >= 0 {
			state.Messages = slices.Delete(state.Messages, i, i+1)
			changed = true
		}
		if !t.loaded && t.arrivals == nil {
			return changed
		}
		if t.arrivals != nil {
			t.arrivals[message.ID] = struct{}{}
		}
		if indexOf(state.Messages, message.ID) >= 0 {
			return changed
		}
		state.Messages = insertOrdered(state.Messages, message)
		return true
	})
}

// receive merges a message from the insert feed. A pending entry with the same
// client reference is replaced; a message already present is ignored.
func (t *timeline) receive(message models.Message) bool {
	added := false
	t.update(func(state *cache.State) bool {
		changed := false
		if message.ClientRef != "" {
			if i := indexOf(state.Messages, message.ClientRef); i >= 0 && state.Messages[i].Pending() {
				state.Messages = slices.Delete(state.Messages, i, i+1)
				changed = true
			}
		}
		if t.arrivals != nil {
			t.arrivals[message.ID] = struct{}{}
		}
		if indexOf(state.Messages, message.ID) >= 0 {
			return changed
		}
		state.Messages = insertOrdered(state.Messages, message)
		added = true
		return true
	})
	return added
}

func (t *timeline) remove(id string) bool {
	return t.update(func(state *cache.State) bool {
		i := indexOf(state.Messages, id)
		if i < 0 {
			return false
		}
		state.Messages = slices.Delete(state.Messages, i, i+1)
		return true
	})
}

// replace overwrites a present message in place; CreatedAt never changes.
func (t *timeline) replace(message models.Message) bool {
	return t.update(func(state *cache.State) bool {
		i := indexOf(state.Messages, message.ID)
		if i < 0 {
			return false
		}
		state.Messages[i] = message
		return true
	})
}

func (t *timeline) setReactions(id string, reactions models.Reactions) bool {
	return t.update(func(state *cache.State) bool {
		i := indexOf(state.Messages, id)
		if i < 0 {
			return false
		}
		state.Messages[i].Reactions = reactions.Clone()
		return true
	})
}

func (t *timeline) applyEdit(id, ciphertext string, result crypto.Result, editedAt int64) bool {
	return t.update(func(state *cache.State) bool {
		i := indexOf(state.Messages, id)
		if i < 0 {
			return false
		}
		message := &state.Messages[i]
		message.Ciphertext = ciphertext
		message.SetBody(result.Text())
		message.DecryptFailed = result.Failed()
		message.IsEdited = true
		message.EditedAt = editedAt
		return true
	})
}

// setStatus upgrades the status of the listed messages. Status never moves back.
func (t *timeline) setStatus(ids []string, status models.Status) bool {
	return t.update(func(state *cache.State) bool {
		changed := false
		for _, id := range ids {
			i := indexOf(state.Messages, id)
			if i < 0 || statusRank(state.Messages[i].Status) >= statusRank(status) {
				continue
			}
			state.Messages[i].Status = status
			changed = true
		}
		return changed
	})
}

func (t *timeline) setTyping(userID string, typing bool) {
	t.mu.Lock()
	_, current := t.typing[userID]
	if current == typing {
		t.mu.Unlock()
		return
	}
	if typing {
		t.typing[userID] = struct{}{}
	} else {
		delete(t.typing, userID)
	}
	t.unlockAndNotify(false)
}

func statusRank(status models.Status) int {
	switch status {
	case models.StatusSending:
		return 0
	case models.StatusSent:
		return 1
	case models.StatusDelivered:
		return 2
	case models.StatusRead:
		return 3
	default:
		return -1
	}
}

func indexOf(messages []models.Message, id string) int {
	return slices.IndexFunc(messages, func(m models.Message) bool { return m.ID == id })
}

// insertOrdered inserts after every message with the same or an earlier CreatedAt.
func insertOrdered(messages []models.Message, message models.Message) []models.Message {
	i := sort.Search(len(messages), func(i int) bool {
		return messages[i].CreatedAt > message.CreatedAt
	})
	return slices.Insert(messages, i, message)
}

// mergeMessages adds the incoming messages that are not already present.
func mergeMessages(existing, incoming []models.Message) ([]models.Message, int) {
	added := 0
	for _, message := range incoming {
		if indexOf(existing, message.ID) >= 0 {
			continue
		}
		existing = insertOrdered(existing, message)
		added++
	}
	return existing, added
}
