package cache

var NoCache Cache = &noCache{}

type noCache struct{}

func (m *noCache) Name() string { return "none" }

func (m *noCache) GetOrSet(_ string, setFn SetFn) (v interface{}, err error) {
	return setFn()
}

func (m *noCache) Remove(string) {}
