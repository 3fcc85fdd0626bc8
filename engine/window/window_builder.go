package window

// WindowBuilderOption is a functional option for configuring an appWindow.
// Use the With* functions to create options.
type WindowBuilderOption func(w *appWindow)

// WithTitle sets the window title displayed in the title bar.
//
// Parameters:
//   - title: the window title text
//
// Returns:
//   - WindowBuilderOption: option function to apply
func WithTitle(title string) WindowBuilderOption {
	return func(w *appWindow) {
		w.title = title
	}
}

// WithSize sets the initial window size. Non-positive values keep the default
// of 1280x720.
//
// Parameters:
//   - width: initial width in pixels
//   - height: initial height in pixels
//
// Returns:
//   - WindowBuilderOption: option function to apply
func WithSize(width, height int) WindowBuilderOption {
	return func(w *appWindow) {
		if width > 0 {
			w.width = width
		}
		if height > 0 {
			w.height = height
		}
	}
}
