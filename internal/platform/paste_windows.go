//go:build windows

package platform

import (
	"fmt"
	"time"

	"github.com/micmonay/keybd_event"
)

func sendNativePaste() error {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return fmt.Errorf("keybd init: %w", err)
	}
	kb.HasCTRL(true)
	kb.SetKeys(keybd_event.VK_V)
	if err := kb.Launching(); err != nil {
		return fmt.Errorf("send ctrl+v: %w", err)
	}
	time.Sleep(20 * time.Millisecond)
	return nil
}
