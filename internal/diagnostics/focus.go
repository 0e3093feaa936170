package diagnostics

import "github.com/banshee-data/postexperiment/internal/fit"

// SetupFocusDiagnostic registers the standard diagnostics of a focal spot
// camera whose image is stored under imgKey (key + "_image" when empty):
//
//	key                    the image
//	key_horizontal_stats   gaussian estimate of the horizontal lineout
//	key_sigma_x            its width
//	key_vertical_stats     gaussian estimate of the vertical lineout
//	key_sigma_y            its width
func SetupFocusDiagnostic(reg *Registry, key, imgKey string) {
	if imgKey == "" {
		imgKey = key + "_image"
	}
	guess := FitInitialGuess(fit.Gaussian1D{})

	reg.Register(key, LoadImage(imgKey))
	reg.Register(key+"_horizontal_stats", Chain(LoadImage(imgKey), SumAxis(1, nil), guess))
	reg.Register(key+"_sigma_x", Chain(reg.Ref(key+"_horizontal_stats"), GetAttr("sigma")))
	reg.Register(key+"_vertical_stats", Chain(LoadImage(imgKey), SumAxis(0, nil), guess))
	reg.Register(key+"_sigma_y", Chain(reg.Ref(key+"_vertical_stats"), GetAttr("sigma")))
}
