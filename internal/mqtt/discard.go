package mqtt

// Discard is used when no broker is configured. Publishes succeed and
// are dropped; no commands ever arrive.
var Discard interface {
	Publisher
	CommandSource
	ConnectionStatus
} = discard{}

type discard struct{}

func (discard) PublishReading(Reading) error                 { return nil }
func (discard) PublishSystem(SystemEvent) error              { return nil }
func (discard) SubscribeCommands(func(payload string)) error { return nil }
func (discard) IsConnected() bool                            { return false }
func (discard) Close() error                                 { return nil }
