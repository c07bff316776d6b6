package encoding

import (
	"errors"
	"fmt"
)

var errMalformedDescriptor = errors.New("encoding: malformed composite descriptor")

func errUnknownDeliveryState(code amqpType) error {
	return fmt.Errorf("encoding: unknown delivery state descriptor 0x%x", code)
}
