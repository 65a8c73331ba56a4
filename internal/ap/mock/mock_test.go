package mock

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blegw/internal/ap"
	"github.com/srg/blegw/internal/testutils"
)

const testAddress = "AA:BB:CC:DD:EE:FF"

type MockSuite struct {
	suite.Suite
	publisher *testutils.RecordingPublisher
	point     *AccessPoint
}

func (s *MockSuite) SetupTest() {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	s.publisher = testutils.NewRecordingPublisher()
	s.point = New(s.publisher, logger, &Options{
		AdvertisementInterval: 5 * time.Millisecond,
		NotificationInterval:  5 * time.Millisecond,
	})
	s.Require().NoError(s.point.Start())
}

func (s *MockSuite) TearDownTest() {
	s.Require().NoError(s.point.Stop())
}

func TestMockSuite(t *testing.T) {
	suite.Run(t, new(MockSuite))
}

func (s *MockSuite) connect() {
	s.Require().NoError(s.point.Connect(testAddress, nil, 1))
}

func (s *MockSuite) TestConnectPublishesStatusOnce() {
	s.connect()

	statuses := s.publisher.Statuses()
	s.Require().Len(statuses, 1)
	s.Equal(testAddress, statuses[0].Address)
	s.True(statuses[0].Connected)
	s.Equal(0, statuses[0].Reason)
}

func (s *MockSuite) TestConnectTwiceFails() {
	s.connect()

	err := s.point.Connect("aa:bb:cc:dd:ee:ff", nil, 1)
	s.Require().Error(err)
	var connErr *ap.ConnectionError
	s.ErrorAs(err, &connErr)
	s.Contains(err.Error(), "already connected")
}

func (s *MockSuite) TestConnectableIsUnlimited() {
	s.True(s.point.Connectable())
	s.connect()
	s.True(s.point.Connectable())
}

func (s *MockSuite) TestDiscoverPopulatesConnection() {
	s.connect()

	result, err := s.point.Discover(testAddress, nil, 1)
	s.Require().NoError(err)
	s.Equal(testAddress, result.Address)
	s.Require().Len(result.Services, 1)

	svc := result.Services[0]
	s.Equal("180d", svc.ID)
	s.Equal(3, svc.Characteristics.Len())

	notify, ok := svc.Characteristic("2a37")
	s.Require().True(ok)
	s.Equal([]string{"notify"}, notify.Properties)
	_, ok = notify.Descriptors.Get("2902")
	s.True(ok)

	read, ok := svc.Characteristic("2a38")
	s.Require().True(ok)
	s.Equal([]string{"read"}, read.Properties)

	write, ok := svc.Characteristic("2a39")
	s.Require().True(ok)
	s.Equal([]string{"write"}, write.Properties)

	// The walk result lands on the cached connection too.
	conn := s.point.GetConnection(testAddress)
	s.Require().NotNil(conn)
	_, ok = conn.Characteristic("180d", "2a37")
	s.True(ok)
}

func (s *MockSuite) TestDiscoverHonorsServiceFilter() {
	s.connect()

	result, err := s.point.Discover(testAddress, &ap.ConnectOptions{Services: []string{"1800"}}, 1)
	s.Require().NoError(err)
	s.Empty(result.Services)

	result, err = s.point.Discover(testAddress, &ap.ConnectOptions{Services: []string{"180D"}}, 1)
	s.Require().NoError(err)
	s.Len(result.Services, 1)
}

func (s *MockSuite) TestDiscoverNotConnected() {
	_, err := s.point.Discover(testAddress, nil, 1)
	var discErr *ap.DiscoveryError
	s.Require().ErrorAs(err, &discErr)
	s.Contains(err.Error(), "not connected")
}

func (s *MockSuite) TestReadFixedValue() {
	s.connect()

	result, err := s.point.Read(testAddress, "180d", "2a38")
	s.Require().NoError(err)
	s.Equal([]byte("test"), result.Value)
}

func (s *MockSuite) TestReadUnknownKeyFails() {
	s.connect()

	_, err := s.point.Read(testAddress, "180d", "2a39")
	var readErr *ap.ReadError
	s.Require().ErrorAs(err, &readErr)
	s.Contains(err.Error(), "invalid service or characteristic uuid")
}

func (s *MockSuite) TestWriteThenReadEchoes() {
	s.connect()

	written, err := s.point.Write(testAddress, "180d", "2a39", []byte{0xCA, 0xFE})
	s.Require().NoError(err)
	s.True(written.Success)

	result, err := s.point.Read(testAddress, "180d", "2a39")
	s.Require().NoError(err)
	s.Equal([]byte{0xCA, 0xFE}, result.Value)
}

func (s *MockSuite) TestSubscribeForwardsNotifications() {
	s.connect()

	_, err := s.point.Subscribe(testAddress, "180d", "2a37")
	s.Require().NoError(err)

	s.Require().Eventually(func() bool {
		return len(s.publisher.Notifications()) > 0
	}, time.Second, 5*time.Millisecond)

	n := s.publisher.Notifications()[0]
	s.Equal(testAddress, n.Address)
	s.Equal("180d", n.ServiceID)
	s.Equal("2a37", n.CharID)
	s.Len(n.Value, 4)
	s.Equal(byte(0xFF), n.Value[0])
	s.Equal(byte(0xFF), n.Value[1])
}

func (s *MockSuite) TestSubscribeTwiceFails() {
	s.connect()

	_, err := s.point.Subscribe(testAddress, "180d", "2a37")
	s.Require().NoError(err)

	_, err = s.point.Subscribe(testAddress, "180D", "2A37")
	var subErr *ap.SubscribeError
	s.Require().ErrorAs(err, &subErr)
	s.Contains(err.Error(), "already subscribed")
}

func (s *MockSuite) TestUnsubscribeStopsForwarding() {
	s.connect()

	_, err := s.point.Subscribe(testAddress, "180d", "2a37")
	s.Require().NoError(err)

	s.Require().Eventually(func() bool {
		return len(s.publisher.Notifications()) > 0
	}, time.Second, 5*time.Millisecond)

	result, err := s.point.Unsubscribe(testAddress, "180d", "2a37")
	s.Require().NoError(err)
	s.True(result.Unsubscribed)

	// Nothing arrives once unsubscribe has returned.
	count := len(s.publisher.Notifications())
	time.Sleep(30 * time.Millisecond)
	s.Equal(count, len(s.publisher.Notifications()))
}

func (s *MockSuite) TestUnsubscribeWithoutSubscription() {
	s.connect()

	_, err := s.point.Unsubscribe(testAddress, "180d", "2a37")
	var unsubErr *ap.UnsubscribeError
	s.Require().ErrorAs(err, &unsubErr)
	s.Contains(err.Error(), "not subscribed")
}

func (s *MockSuite) TestDisconnectPublishesStatusOnce() {
	s.connect()

	s.Require().NoError(s.point.Disconnect(testAddress))
	s.Nil(s.point.GetConnection(testAddress))

	statuses := s.publisher.Statuses()
	s.Require().Len(statuses, 2)
	s.False(statuses[1].Connected)

	err := s.point.Disconnect(testAddress)
	var discErr *ap.DisconnectError
	s.Require().ErrorAs(err, &discErr)
	s.Contains(err.Error(), "not connected")
}

func (s *MockSuite) TestDisconnectRetiresSubscriptions() {
	s.connect()
	_, err := s.point.Subscribe(testAddress, "180d", "2a37")
	s.Require().NoError(err)

	s.Require().NoError(s.point.Disconnect(testAddress))

	count := len(s.publisher.Notifications())
	time.Sleep(30 * time.Millisecond)
	s.Equal(count, len(s.publisher.Notifications()))
}

func (s *MockSuite) TestSimulateLinkLossIsExactlyOnce() {
	s.connect()

	s.True(s.point.SimulateLinkLoss(testAddress))
	s.False(s.point.SimulateLinkLoss(testAddress))

	statuses := s.publisher.Statuses()
	s.Require().Len(statuses, 2)
	s.False(statuses[1].Connected)
	s.Equal(0x08, statuses[1].Reason)
}

func (s *MockSuite) TestScanPublishesAdvertisements() {
	s.Require().NoError(s.point.StartScan())
	// Idempotent while running.
	s.Require().NoError(s.point.StartScan())

	s.Require().Eventually(func() bool {
		return len(s.publisher.Advertisements()) >= 2
	}, time.Second, 5*time.Millisecond)

	s.Require().NoError(s.point.StopScan())

	adv := s.publisher.Advertisements()[0]
	s.NotEmpty(adv.Address)
	s.NotEmpty(adv.Data)
	s.GreaterOrEqual(adv.RSSI, -30)
	s.LessOrEqual(adv.RSSI, -20)
}

func TestStopScanWithoutScan(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	point := New(testutils.NewRecordingPublisher(), logger, nil)
	require.NoError(t, point.Start())
	assert.NoError(t, point.StopScan())
	assert.NoError(t, point.Stop())
}
