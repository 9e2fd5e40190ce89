package screenrec

import (
	"errors"

	"go.uber.org/zap"
)

func newNativeWindowLister(logger *zap.SugaredLogger) (windowLister, error) {
	return nil, errors.New("native window enumeration is only implemented on Windows")
}
