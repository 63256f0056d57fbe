package client

import (
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "client")
