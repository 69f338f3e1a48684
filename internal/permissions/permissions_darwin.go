//go:build darwin

package permissions

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework AVFoundation -framework Foundation
#import <AVFoundation/AVFoundation.h>

int checkMicrophonePermission() {
    AVAuthorizationStatus status = [AVCaptureDevice authorizationStatusForMediaType:AVMediaTypeAudio];
    return (int)status;
}

// Blocks until the user answers the dialog. Returns 1 granted, 0 denied,
// -1 on timeout.
int requestMicrophonePermission(long long timeoutSeconds) {
    __block BOOL granted = NO;
    dispatch_semaphore_t answered = dispatch_semaphore_create(0);
    [AVCaptureDevice requestAccessForMediaType:AVMediaTypeAudio completionHandler:^(BOOL ok) {
        granted = ok;
        dispatch_semaphore_signal(answered);
    }];
    if (dispatch_semaphore_wait(answered, dispatch_time(DISPATCH_TIME_NOW, timeoutSeconds * NSEC_PER_SEC)) != 0) {
        return -1;
    }
    return granted ? 1 : 0;
}
*/
import "C"

import "time"

// requestTimeout bounds how long an unanswered permission dialog holds up
// the first capture session.
const requestTimeout = 2 * time.Minute

// Microphone returns the microphone permission status. When undetermined it
// shows the system dialog and blocks until the user answers, so the first
// stream is never opened before access is decided. It must not be called
// from the main thread.
func Microphone() Status {
	status := Status(C.checkMicrophonePermission())
	if status != NotDetermined {
		return status
	}
	return requestOutcome(int(C.requestMicrophonePermission(C.longlong(requestTimeout / time.Second))))
}
