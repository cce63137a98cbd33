package bot

import (
	"context"

	"taskbot/internal/domain"
	"taskbot/internal/timezone"
	"taskbot/internal/views"
)

func (r *Router) zoneMenu(ctx context.Context, req *Request) error {
	r.sess.Clear(req.ChatID, req.FromID)
	return r.screen(ctx, req, 0, views.ZoneMenu())
}

func (r *Router) zonePick(ctx context.Context, req *Request) error {
	z := timezone.Zone(req.Data.Payload)
	off, ok := timezone.Offset(z)
	if !ok {
		req.Answer("Неизвестный часовой пояс")
		return nil
	}
	name := timezone.Name(z)
	r.sess.Put(req.ChatID, req.FromID, Session{
		Step:     StepZoneConfirm,
		ZoneName: name,
		Zone:     &domain.GroupTimezone{Zone: string(z)},
	})
	return r.screen(ctx, req, 0, views.ZoneConfirm(name, off, r.now()))
}

func (r *Router) zoneCustom(ctx context.Context, req *Request) error {
	r.sess.Put(req.ChatID, req.FromID, Session{Step: StepZoneName})
	return r.replace(ctx, req, 0, views.ZoneNamePrompt())
}

func (r *Router) zoneOK(ctx context.Context, req *Request) error {
	sess, ok := r.sess.Get(req.ChatID, req.FromID)
	if !ok || sess.Zone == nil {
		req.Answer(textExpired)
		return nil
	}
	if _, err := r.tasks.SetGroupZone(ctx, req.ChatID, *sess.Zone); err != nil {
		return err
	}
	r.sess.Clear(req.ChatID, req.FromID)
	return r.replace(ctx, req, 0, views.ZoneSet(sess.ZoneName))
}
