package gsm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRAT(t *testing.T) {
	cases := []struct {
		resp string
		want string
	}{
		{"\r\n+URAT: 0\r\nOK\r\n", "GSM"},
		{"\r\n+URAT: 2\r\nOK\r\n", "UMTS"},
		{"\r\n+URAT: 3\r\nOK\r\n", "LTE"},
		{"\r\n+URAT: 5\r\nOK\r\n", "LTE"},
	}
	for _, tc := range cases {
		c, _ := newTestClient(t, map[string]string{
			"+URAT?": tc.resp,
		})
		rat, err := c.RAT(context.Background())
		require.NoError(t, err)
		assert.Equal(t, tc.want, rat)
		assert.Equal(t, tc.want, c.d.Net.RAT())
	}
}

func TestRATUnsupportedDefaultsToGSM(t *testing.T) {
	c, _ := newTestClient(t, map[string]string{
		"+URAT?": "\r\n+CME ERROR: 100\r\n",
	})
	rat, err := c.RAT(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "GSM", rat)
}

func TestCellInfo(t *testing.T) {
	c, _ := newTestClient(t, map[string]string{
		"+CGED=3": "\r\n+CGED: MCC:234,MNC:15,LAC:1A2B,CI:00FF,BSIC:32\r\nOK\r\n",
	})
	info, err := c.CellInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CellInfo{MCC: "234", MNC: "15", LAC: "1A2B", CI: "00FF", BSIC: "32"}, info)

	lac, ci := c.d.Net.Cell()
	assert.Equal(t, "1A2B", lac)
	assert.Equal(t, "00FF", ci)
	assert.Equal(t, "32", c.d.Net.BSIC())
}
