// Package api wires the HTTP surface onto Fiber.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/MagnunAVF/smllr/internal"
	applog "github.com/MagnunAVF/smllr/internal/logger"
	"github.com/MagnunAVF/smllr/internal/redirect"
	"github.com/MagnunAVF/smllr/internal/shorten"
)

// HeaderUserID carries the authenticated user id, set by the auth layer in
// front of this service. Absent means anonymous.
const HeaderUserID = "X-User-ID"

const latestClicksLimit = 10

type Redirector interface {
	HandleRedirect(ctx context.Context, code string, headers http.Header, remoteAddr string) (redirect.Result, error)
}

type Shortener interface {
	Create(ctx context.Context, req shorten.Request) (*internal.ShortURL, error)
}

type StatsStore interface {
	FindByCode(ctx context.Context, code string) (*internal.ShortURL, error)
	LatestClicks(ctx context.Context, code string, limit int) ([]internal.Click, error)
}

type Handlers struct {
	AppDomain  string
	Redirector Redirector
	Shortener  Shortener
	Stats      StatsStore
}

// NewApp builds the Fiber app. Fixed routes are registered before the
// catch-all short code route.
func NewApp(h *Handlers) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())
	app.Use(applog.FiberMiddleware())
	app.Use(cors.New())

	app.Get("/health", handleHealth)
	app.Post("/shorten", h.handleShorten)
	app.Get("/stats/:short_code", h.handleGetStats)
	app.Get("/:short_code", h.handleRedirect)
	return app
}

func handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "Ok"})
}

func (h *Handlers) handleRedirect(c *fiber.Ctx) error {
	code := c.Params("short_code")

	res, err := h.Redirector.HandleRedirect(c.UserContext(), code, requestHeaders(c), c.Context().RemoteAddr().String())
	if err != nil {
		applog.FromContext(c.UserContext()).Error("Redirect lookup failed", "short_code", code, "err", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Service temporarily unavailable"})
	}
	if !res.Found {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Short URL not found or has expired."})
	}
	return c.Redirect(res.Destination, fiber.StatusFound)
}

func (h *Handlers) handleShorten(c *fiber.Ctx) error {
	var req struct {
		URL       string `json:"url"`
		ShortCode string `json:"short_code"`
		Name      string `json:"name"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	}

	owner, err := ownerID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid user id"})
	}

	u, err := h.Shortener.Create(c.UserContext(), shorten.Request{
		Destination: req.URL,
		Code:        req.ShortCode,
		Name:        req.Name,
		OwnerID:     owner,
		CreatorIP:   c.IP(),
	})
	switch {
	case errors.Is(err, internal.ErrInvalidURL), errors.Is(err, internal.ErrInvalidCode):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, internal.ErrCodeTaken):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, internal.ErrLimitReached):
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": err.Error()})
	case err != nil:
		applog.FromContext(c.UserContext()).Error("Error creating short URL", "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Could not save URL"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"code":      u.Code,
		"short_url": fmt.Sprintf("%s/%s", h.AppDomain, u.Code),
	})
}

type clickView struct {
	ClickedAt      time.Time `json:"clicked_at"`
	IPAddress      string    `json:"ip_address"`
	UserAgent      string    `json:"user_agent"`
	DeviceType     string    `json:"device_type"`
	Referrer       string    `json:"referrer"`
	OS             string    `json:"os"`
	BrowserName    string    `json:"browser_name"`
	BrowserVersion string    `json:"browser_version"`
}

func (h *Handlers) handleGetStats(c *fiber.Ctx) error {
	code := c.Params("short_code")
	ctx := c.UserContext()

	u, err := h.Stats.FindByCode(ctx, code)
	if errors.Is(err, internal.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Short URL not found"})
	}
	if err != nil {
		applog.FromContext(ctx).Error("Stats lookup failed", "short_code", code, "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Database error"})
	}

	clicks, err := h.Stats.LatestClicks(ctx, code, latestClicksLimit)
	if err != nil {
		applog.FromContext(ctx).Error("Latest clicks lookup failed", "short_code", code, "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Database error"})
	}

	latest := make([]clickView, 0, len(clicks))
	for _, cl := range clicks {
		v := clickView{ClickedAt: cl.ClickedAt}
		if fp := cl.Fingerprint; fp != nil {
			v.IPAddress = fp.IPAddress
			v.UserAgent = fp.UserAgent
			v.DeviceType = fp.DeviceType
			v.Referrer = fp.Referrer
			v.OS = fp.OS
			v.BrowserName = fp.BrowserName
			v.BrowserVersion = fp.BrowserVersion
		}
		latest = append(latest, v)
	}

	return c.JSON(fiber.Map{
		"code":          u.Code,
		"destination":   u.Destination,
		"created_at":    u.CreatedAt,
		"total_clicks":  u.Clicks,
		"latest_clicks": latest,
	})
}

func requestHeaders(c *fiber.Ctx) http.Header {
	h := make(http.Header)
	for k, vs := range c.GetReqHeaders() {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	return h
}

func ownerID(c *fiber.Ctx) (*int64, error) {
	raw := c.Get(HeaderUserID)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("invalid %s %q", HeaderUserID, raw)
	}
	return &id, nil
}
