package capture

import (
	"github.com/gen2brain/malgo"

	"github.com/horchlabs/horch/pkg/errorsx"
)

// ListCaptureDevices enumerates input device names for diagnostics.
func ListCaptureDevices() ([]string, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonCaptureDevice)
	}
	defer func() { _ = mctx.Uninit() }()

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonCaptureDevice)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, nil
}
