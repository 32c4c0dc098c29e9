// Package voice assembles the voice waiter from one Config.
//
// An Assistant owns the microphone, the conversation machine, the speech
// player, the wake word listener, the push bridge and the optional
// dashboard, and runs them together:
//
//	cfg := voice.DefaultConfig().FromEnv().WithRestaurant("r-42")
//	a, err := voice.New(ctx, cfg)
//	if errors.Is(err, voice.ErrDisabled) {
//	    return nil // AI feature is off for this restaurant
//	}
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//	return a.Run(ctx)
//
// Tests and embedders replace the outside world through Options:
// WithDevice for capture, WithElements for playback, WithServices for the
// AI backend and WithCart for the cart.
package voice
