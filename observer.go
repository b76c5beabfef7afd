package onvif

// Observer receives raw traffic and connection events. Methods are called
// from request goroutines and must not block.
type Observer interface {
	// RawRequest is called with the outbound envelope before it is sent
	RawRequest(endpoint string, envelope []byte)
	// RawResponse is called with the inbound envelope once fully received
	RawResponse(endpoint string, envelope []byte)
	// Connected is called when bootstrap reaches the ready state
	Connected()
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnRawRequest  func(endpoint string, envelope []byte)
	OnRawResponse func(endpoint string, envelope []byte)
	OnConnected   func()
}

// RawRequest implements Observer
func (o ObserverFuncs) RawRequest(endpoint string, envelope []byte) {
	if o.OnRawRequest != nil {
		o.OnRawRequest(endpoint, envelope)
	}
}

// RawResponse implements Observer
func (o ObserverFuncs) RawResponse(endpoint string, envelope []byte) {
	if o.OnRawResponse != nil {
		o.OnRawResponse(endpoint, envelope)
	}
}

// Connected implements Observer
func (o ObserverFuncs) Connected() {
	if o.OnConnected != nil {
		o.OnConnected()
	}
}

// AddObserver registers o for all subsequent events
func (c *Client) AddObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

func (c *Client) observerList() []Observer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Observer(nil), c.observers...)
}

func (c *Client) emitRawRequest(endpoint string, envelope []byte) {
	c.log.Trace().Str("endpoint", endpoint).Bytes("envelope", envelope).Msg("raw request")
	for _, o := range c.observerList() {
		o.RawRequest(endpoint, envelope)
	}
}

func (c *Client) emitRawResponse(endpoint string, envelope []byte) {
	c.log.Trace().Str("endpoint", endpoint).Bytes("envelope", envelope).Msg("raw response")
	for _, o := range c.observerList() {
		o.RawResponse(endpoint, envelope)
	}
}

func (c *Client) emitConnected() {
	for _, o := range c.observerList() {
		o.Connected()
	}
}
