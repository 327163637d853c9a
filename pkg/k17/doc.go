// Package k17 provides a client for the TCP control protocol exposed by
// the FiiO K17 DAC/headphone amplifier.
//
// # Basic Usage
//
//	client, err := k17.NewClient("192.168.1.60")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx := context.Background()
//	settings, err := client.Connect(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Disconnect()
//
//	fmt.Println("volume:", settings.CurrentVolume())
//
//	ok, err := client.SetVolume(ctx, 35)
//
// # Push Notifications
//
// Turning the volume knob on the device produces an unsolicited message.
// Register a handler to receive it:
//
//	client.SetVolumeHandler(func(v int) {
//	    fmt.Println("knob moved to", v)
//	})
//
// Handlers run on the client's read goroutine. They must return quickly and
// must not call Disconnect.
//
// # Reconnection
//
// The client never reconnects by itself. When the device drops the
// connection the disconnect handler fires once and the client returns to the
// disconnected state; call Connect again to start a new session.
//
// # Protocol
//
// The device listens on TCP port 12100. Commands and replies are ASCII hex
// strings with no length prefix, so every read is treated as one message.
// Requests carry no identifiers: the next message to arrive after a command
// is its reply, and anything arriving while no command is outstanding is a
// push notification.
package k17
