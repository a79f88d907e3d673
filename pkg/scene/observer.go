package scene

import (
	"sync"
)

type subscription struct {
	object  string
	attr    string
	handler ChangeHandler
}

func (s subscription) matches(ev ChangeEvent) bool {
	return (s.object == "" || s.object == ev.Object) && (s.attr == "" || s.attr == ev.Attribute)
}

// observers is the handler registry shared by the adapters. Handlers are
// called synchronously and in registration order.
type observers struct {
	mu   sync.RWMutex
	next int
	subs map[int]subscription
	ids  []int
}

func (o *observers) add(object, attr string, h ChangeHandler) func() {
	if h == nil {
		return func() {}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.subs == nil {
		o.subs = make(map[int]subscription)
	}
	id := o.next
	o.next++
	o.subs[id] = subscription{object: object, attr: attr, handler: h}
	o.ids = append(o.ids, id)

	var once sync.Once
	return func() {
		once.Do(func() { o.remove(id) })
	}
}

func (o *observers) remove(id int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.subs, id)
	for i, v := range o.ids {
		if v == id {
			o.ids = append(o.ids[:i], o.ids[i+1:]...)
			break
		}
	}
}

// notify must be called without any adapter lock held; handlers may call
// back into the scene.
func (o *observers) notify(ev ChangeEvent) {
	o.mu.RLock()
	matched := make([]ChangeHandler, 0, len(o.ids))
	for _, id := range o.ids {
		if s := o.subs[id]; s.matches(ev) {
			matched = append(matched, s.handler)
		}
	}
	o.mu.RUnlock()

	for _, h := range matched {
		h(ev)
	}
}
