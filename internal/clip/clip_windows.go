//go:build windows

package clip

// #cgo LDFLAGS: -luser32
//
// #include <windows.h>
// #include <stdlib.h>
//
// static LRESULT CALLBACK selsync_wnd_proc(HWND hwnd, UINT msg, WPARAM wp, LPARAM lp) {
//     if (msg == WM_CLIPBOARDUPDATE) {
//         PostMessage(hwnd, WM_USER + 1, 0, 0);
//         return 0;
//     }
//     return DefWindowProc(hwnd, msg, wp, lp);
// }
//
// static HWND selsync_create_listener_window() {
//     WNDCLASS wc = {0};
//     wc.lpfnWndProc   = selsync_wnd_proc;
//     wc.hInstance     = GetModuleHandle(NULL);
//     wc.lpszClassName = "SelsyncClipboard";
//     RegisterClass(&wc);
//     HWND hwnd = CreateWindowEx(0, "SelsyncClipboard", NULL, 0,
//         0, 0, 0, 0, HWND_MESSAGE, NULL, GetModuleHandle(NULL), NULL);
//     AddClipboardFormatListener(hwnd);
//     return hwnd;
// }
//
// static void selsync_pump_messages(HWND hwnd, int* changed) {
//     MSG msg;
//     *changed = 0;
//     while (PeekMessage(&msg, hwnd, 0, 0, PM_REMOVE)) {
//         if (msg.message == WM_USER + 1) { *changed = 1; }
//         TranslateMessage(&msg);
//         DispatchMessage(&msg);
//     }
// }
import "C"

import (
	"log/slog"
	"time"

	"golang.design/x/clipboard"
)

// New returns the Windows clipboard bridge using AddClipboardFormatListener.
func New() Bridge {
	if err := clipboard.Init(); err != nil {
		slog.Warn("clipboard init failed, running headless", "err", err)
		return NewHeadless()
	}
	hwnd := C.selsync_create_listener_window()
	b := newXclipBridge("Windows Clipboard")
	go pump(b, hwnd)
	return b
}

func pump(b *xclipBridge, hwnd C.HWND) {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-t.C:
			var changed C.int
			C.selsync_pump_messages(hwnd, &changed)
			if changed != 0 {
				b.changedExternally()
			}
		}
	}
}
