package gioc

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/go-logr/logr"
	"go.uber.org/multierr"
)

// destroyables keeps the destroyable beans of a scope until they are destroyed.
// Each bean is destroyed at most once.
type destroyables struct {
	mu    sync.Mutex
	beans []*BeanData
	log   logr.Logger
}

func (d *destroyables) register(bd *BeanData) {
	if !bd.Destroyable() {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.beans = append(d.beans, bd)
}

func (d *destroyables) total() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.beans)
}

// forget removes bd and reports whether it was registered
func (d *destroyables) forget(bd *BeanData) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, b := range d.beans {
		if b == bd {
			d.beans = append(d.beans[:i], d.beans[i+1:]...)
			return true
		}
	}
	return false
}

func (d *destroyables) destroy(bd *BeanData) error {
	if !d.forget(bd) {
		return nil
	}
	err := destroyBean(bd)
	if err != nil {
		d.log.Error(err, "bean destroy failed", "bean", bd.Name())
	}
	return err
}

// replaced settles prev after bd took its place under the same name.
// Registering the live instance again only drops the old bookkeeping entry.
func (d *destroyables) replaced(prev, bd *BeanData) error {
	if prev == nil || prev == bd {
		return nil
	}
	if sameInstance(prev.Bean, bd.Bean) {
		d.forget(prev)
		return nil
	}
	return d.destroy(prev)
}

func sameInstance(a, b any) (same bool) {
	t := reflect.TypeOf(a)
	if t == nil || t != reflect.TypeOf(b) || !t.Comparable() {
		return false
	}
	// comparable structs may still hold uncomparable interface values
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}

// destroyAll destroys every bean in list, one failure does not stop the others
func (d *destroyables) destroyAll(list []*BeanData) error {
	var err error
	for _, bd := range list {
		err = multierr.Append(err, d.destroy(bd))
	}
	return err
}

func (d *destroyables) shutdown() error {
	d.mu.Lock()
	list := d.beans
	d.beans = nil
	d.mu.Unlock()

	var err error
	for _, bd := range list {
		if derr := destroyBean(bd); derr != nil {
			d.log.Error(derr, "bean destroy failed", "bean", bd.Name())
			err = multierr.Append(err, derr)
		}
	}
	return err
}

// destroyBean calls Destroyer.Destroy and then every destroy func of the definition
func destroyBean(bd *BeanData) (err error) {
	if d, ok := bd.Bean.(Destroyer); ok {
		err = multierr.Append(err, safeDestroy(bd.Name(), d.Destroy))
	}
	if bd.Definition == nil {
		return err
	}
	for _, fn := range bd.Definition.DestroyFuncs {
		err = multierr.Append(err, safeDestroy(bd.Name(), func() error { return fn(bd.Bean) }))
	}
	return err
}

func safeDestroy(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("destroy bean %q: panic: %v", name, r)
		}
	}()
	if err := fn(); err != nil {
		return fmt.Errorf("destroy bean %q: %w", name, err)
	}
	return nil
}
