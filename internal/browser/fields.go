package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// FieldAttribute is stamped on each dynamically added form field container
const FieldAttribute = "data-field-id"

// FieldHandle addresses one added form field by the id it received when it was added
type FieldHandle struct {
	ID    string
	Index int // Order in which the field was added on its page
}

// Selector matches the field's container
func (f FieldHandle) Selector() string {
	return fmt.Sprintf(`[%s="%s"]`, FieldAttribute, f.ID)
}

// Scope narrows selector to descendants of the field's container
func (f FieldHandle) Scope(selector string) string {
	return f.Selector() + " " + selector
}

// FieldRegistry records added fields in the order they were added
type FieldRegistry struct {
	mu      sync.Mutex
	handles []FieldHandle
}

func (r *FieldRegistry) add(id string) FieldHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := FieldHandle{ID: id, Index: len(r.handles)}
	r.handles = append(r.handles, h)
	return h
}

// Handles returns the registered fields in add order
func (r *FieldRegistry) Handles() []FieldHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]FieldHandle(nil), r.handles...)
}

// Fields returns the registry of fields added on this page
func (p *Page) Fields() *FieldRegistry {
	return p.fields
}

// AddField clicks trigger, waits for a new visible container matching
// container to appear, and stamps it with a fresh id. Forms that reveal a
// cloned sub-form keep hidden templates and earlier copies around, so the
// newest visible unstamped container is the one that was just added.
func (p *Page) AddField(ctx context.Context, trigger, container string) (FieldHandle, error) {
	visible := container + ":not(.hidden)"

	var before int
	if err := p.Evaluate(ctx, fmt.Sprintf(`document.querySelectorAll(%s).length`, jsString(visible)), &before); err != nil {
		return FieldHandle{}, err
	}

	if err := p.Click(ctx, trigger); err != nil {
		return FieldHandle{}, err
	}

	grown := fmt.Sprintf(`document.querySelectorAll(%s).length > %d`, jsString(visible), before)
	if err := p.poll(ctx, grown, nil, p.session.opts.ActionTimeout); err != nil {
		if isTimeout(err) {
			return FieldHandle{}, fmt.Errorf("%w: no new %s after clicking %s", ErrElementNotFound, container, trigger)
		}
		return FieldHandle{}, fmt.Errorf("failed waiting for new field: %w", err)
	}

	id := uuid.NewString()
	stamp := fmt.Sprintf(`((sel, attr, id) => {
		const nodes = Array.from(document.querySelectorAll(sel)).filter(n => !n.hasAttribute(attr));
		if (!nodes.length) return false;
		nodes[nodes.length - 1].setAttribute(attr, id);
		return true;
	})(%s, %s, %s)`, jsString(visible), jsString(FieldAttribute), jsString(id))

	var stamped bool
	if err := p.Evaluate(ctx, stamp, &stamped); err != nil {
		return FieldHandle{}, err
	}
	if !stamped {
		return FieldHandle{}, fmt.Errorf("%w: every visible %s is already registered", ErrElementNotFound, container)
	}

	handle := p.fields.add(id)
	p.session.logger.Debug().Str("field_id", id).Int("index", handle.Index).Msg("Registered added field")
	return handle, nil
}
