package visualize

import (
	"fmt"
	"os"
	"path/filepath"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
)

const (
	AppID = "com.satindergrewal.stemprep"

	WindowWidth  = 1200
	WindowHeight = 800
)

// NewWindow builds a window showing the image at pngPath, scaled to fit.
func NewWindow(a fyne.App, pngPath string) (fyne.Window, error) {
	if _, err := os.Stat(pngPath); err != nil {
		return nil, fmt.Errorf("open figure: %w", err)
	}

	img := canvas.NewImageFromFile(pngPath)
	img.FillMode = canvas.ImageFillContain

	w := a.NewWindow(filepath.Base(pngPath))
	w.SetContent(img)
	w.Resize(fyne.NewSize(WindowWidth, WindowHeight))
	return w, nil
}

// Show opens pngPath in a desktop window and blocks until it is closed.
func Show(pngPath string) error {
	w, err := NewWindow(app.NewWithID(AppID), pngPath)
	if err != nil {
		return err
	}
	w.ShowAndRun()
	return nil
}
