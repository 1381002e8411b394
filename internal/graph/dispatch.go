package graph

import "github.com/sweeney/homegraph/internal/control"

type constructor func(b base) (Node, error)

var constructors = map[Kind]constructor{
	KindPushButton:  newPushButton,
	KindLevelButton: newLevelButton,
	KindToggle:      newToggleSwitch,
	KindTimed:       newTimedSwitch,
	KindOnOff:       newOnOffSwitch,
	KindRegulator:   newRegulator,
	KindDigitalOut:  newDigitalOut,
	KindOneWireBus:  newOneWireBus,
	KindThermometer: newThermometer,
}

// action handles "<node>/set/<name>".
type action func(req *control.Request) error

type actor interface {
	actions() map[string]action
}

func actionsOf(n Node) map[string]action {
	if a, ok := n.(actor); ok {
		return a.actions()
	}
	return nil
}
