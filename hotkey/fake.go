package hotkey

type FakeHotkey struct {
	triggers chan struct{}
}

func NewFake() *FakeHotkey {
	return &FakeHotkey{triggers: make(chan struct{}, 1)}
}

func (f *FakeHotkey) Register() error           { return nil }
func (f *FakeHotkey) Unregister()               {}
func (f *FakeHotkey) Triggers() <-chan struct{} { return f.triggers }

func (f *FakeHotkey) Fire() { f.triggers <- struct{}{} }
