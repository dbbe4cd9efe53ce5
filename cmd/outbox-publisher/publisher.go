package main

import (
	"context"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

// publisher is the slice of *gcppubsub.Publisher the service uses.
type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
	ResumePublish(orderingKey string)
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type gcpPublisher struct {
	topic *gcppubsub.Publisher
}

func wrapPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	return gcpPublisher{topic: p}
}

func (p gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return p.topic.Publish(ctx, msg)
}

func (p gcpPublisher) ResumePublish(orderingKey string) {
	p.topic.ResumePublish(orderingKey)
}
