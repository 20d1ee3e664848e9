package gioc

import (
	"errors"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestScopeContext(t *testing.T) {
	sc := NewScopeContext()
	assert.NotEqual(t, sc.ID(), NewScopeContext().ID())

	def := beanDef("a", RequestScoped)
	sc.Set(NewBeanData(def, "value"))
	bd, ok := sc.Get("a")
	assert.True(t, ok)
	assert.Equal(t, any("value"), bd.Bean)
	assert.Equal(t, 1, sc.Len())

	var calls int
	var ended []*BeanData
	owner := new(int)
	sc.OnEnd(owner, func(beans []*BeanData) error {
		calls++
		ended = beans
		return nil
	})
	// only the first listener of an owner is kept
	sc.OnEnd(owner, func([]*BeanData) error {
		calls += 100
		return nil
	})
	sc.OnEnd(new(int), func([]*BeanData) error { return errors.New("listener failed") })

	err := sc.End()
	assert.EqualError(t, err, "listener failed")
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, len(ended))
	assert.True(t, sc.Ended())
	assert.Equal(t, 0, sc.Len())

	assert.NoError(t, sc.End())
	sc.OnEnd(new(int), func([]*BeanData) error { return errors.New("never called") })
	assert.NoError(t, sc.End())
	assert.Equal(t, 1, calls)
}

func TestScopeContextDelete(t *testing.T) {
	sc := NewScopeContext()
	sc.Set(NewBeanData(beanDef("a", RequestScoped), 1))

	bd, ok := sc.Delete("a")
	assert.True(t, ok)
	assert.Equal(t, "a", bd.Name())

	_, ok = sc.Delete("a")
	assert.False(t, ok)
}

func TestBeanDataDestroyable(t *testing.T) {
	assert.True(t, NewBeanData(beanDef("a", Singleton), &trackedBean{}).Destroyable())
	assert.False(t, NewBeanData(beanDef("a", Singleton), "plain").Destroyable())
	assert.True(t, NewBeanData(&BeanDefinition{Name: "a", DestroyFuncs: []func(any) error{
		func(any) error { return nil },
	}}, "plain").Destroyable())
}

func TestScopeKindString(t *testing.T) {
	assert.Equal(t, "singleton", Singleton.String())
	assert.Equal(t, "transient", Transient.String())
	assert.Equal(t, "request", RequestScoped.String())
	assert.Equal(t, "session", SessionScoped.String())
	assert.Equal(t, "scope(9)", ScopeKind(9).String())
}
