package channel

import (
	"context"
	"time"

	"github.com/lloydmeta/datahub/internal/domain/metadata"
)

var MockNow = time.Now().UTC()

var mockTTL = int64(7 * dayMillis)

var MockDomainChannel = Channel{
	Name:      "mock",
	TTLMillis: &mockTTL,
	Metadata: metadata.Metadata{
		CreatedAt:  metadata.CreatedAt(MockNow),
		ModifiedAt: metadata.ModifiedAt(MockNow),
		Version: metadata.Version{
			SeqNum:      0,
			PrimaryTerm: 1,
		},
	},
}

type MockChannelsService struct {
	CreateCalled   uint
	CreateOverride func() (*Channel, error)
	GetCalled      uint
	GetOverride    func() (*Channel, error)
	UpdateCalled   uint
	UpdateOverride func() (*Channel, error)
	DeleteCalled   uint
	DeleteOverride func() error
	AllCalled      uint
	AllOverride    func() ([]Channel, error)
}

func (m *MockChannelsService) Create(ctx context.Context, newChannel *NewChannel) (*Channel, error) {
	m.CreateCalled++
	if m.CreateOverride != nil {
		return m.CreateOverride()
	} else {
		c := MockDomainChannel
		return &c, nil
	}
}

func (m *MockChannelsService) Get(ctx context.Context, name Name) (*Channel, error) {
	m.GetCalled++
	if m.GetOverride != nil {
		return m.GetOverride()
	} else {
		c := MockDomainChannel
		return &c, nil
	}
}

func (m *MockChannelsService) Update(ctx context.Context, channel *Channel) (*Channel, error) {
	m.UpdateCalled++
	if m.UpdateOverride != nil {
		return m.UpdateOverride()
	} else {
		return channel, nil
	}
}

func (m *MockChannelsService) Delete(ctx context.Context, name Name) error {
	m.DeleteCalled++
	if m.DeleteOverride != nil {
		return m.DeleteOverride()
	} else {
		return nil
	}
}

func (m *MockChannelsService) All(ctx context.Context) ([]Channel, error) {
	m.AllCalled++
	if m.AllOverride != nil {
		return m.AllOverride()
	} else {
		return []Channel{MockDomainChannel}, nil
	}
}
