package main

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/Seednode/relaydraw/games/relay"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

const qrSize = 320

// serveRooms lists open rooms. Passphrases are never included.
func serveRooms(cfg *Config, game *relay.Server, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		data, err := json.Marshal(game.Rooms())
		if err != nil {
			http.Error(w, "unable to list rooms", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		securityHeaders(cfg, w)

		written, err := w.Write(data)
		if err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Room list (%s) to %s in %s",
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

// inviteURL is the link a QR code for key points at.
func inviteURL(cfg *Config, r *http.Request, key string) string {
	scheme := cfg.scheme()
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	return scheme + "://" + r.Host + cfg.prefix + "/?room=" + url.QueryEscape(key)
}

// serveInviteQR renders a PNG QR code inviting players into an open room.
func serveInviteQR(cfg *Config, game *relay.Server, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		startTime := time.Now()

		key := ps.ByName("key")
		if !game.RoomExists(key) {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		png, err := qrcode.Encode(inviteURL(cfg, r, key), qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		securityHeaders(cfg, w)

		written, err := w.Write(png)
		if err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Invite code for %s (%s) to %s in %s",
			key,
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}
